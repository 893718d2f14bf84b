package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
)

const structureSystemPrompt = `You turn raw web research about a company into a structured profile. Respond with a valid JSON object:
{
  "summary": "<2-4 sentence description of what the company does>",
  "services": ["<service>", ...],
  "employee_range": "<e.g. 11-50, unknown if unclear>",
  "year_founded": <year or 0>,
  "signals": ["<fact relevant to the stated campaign criteria>", ...],
  "quality_score": <0.0-1.0, how well this company fits the criteria>,
  "follow_up_queries": ["<search query>", ...]
}
Include follow_up_queries only when a specific, answerable gap remains. Score strictly: 0.9+ means a clear fit with strong evidence.`

const searchPromptTemplate = `Research the company at domain %s (name: %s, location: %s).
Campaign criteria: %s
Report what the company does, its services, size, founding year, and anything relevant to the criteria. Cite concrete facts only.`

// AgentConfig sizes the research loop.
type AgentConfig struct {
	Model         string // Claude model for structuring
	MaxIterations int    // search rounds, follow-ups included
	MaxTokens     int64

	// Retry wraps every provider call; zero means the discovery preset.
	Retry resilience.RetryConfig
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Model:         "claude-sonnet-4-5-20250929",
		MaxIterations: 3,
		MaxTokens:     2048,
	}
}

// Agent is the production Runner: Perplexity for gathering, Claude for
// structuring, both behind the discovery retry preset.
type Agent struct {
	search perplexity.Client
	ai     anthropic.Client
	cfg    AgentConfig
	retry  resilience.RetryConfig
	log    *zap.Logger
}

func NewAgent(search perplexity.Client, ai anthropic.Client, cfg AgentConfig) *Agent {
	if cfg.Model == "" {
		cfg.Model = DefaultAgentConfig().Model
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultAgentConfig().MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAgentConfig().MaxTokens
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DiscoveryTaskRetry()
	}
	return &Agent{
		search: search,
		ai:     ai,
		cfg:    cfg,
		retry:  cfg.Retry,
		log:    zap.L().Named("research"),
	}
}

// Research runs the search-then-structure loop. Each iteration appends new
// findings; the loop ends when the model stops asking follow-ups or the
// iteration cap is hit, whichever comes first.
func (a *Agent) Research(ctx context.Context, c *model.CompanyCandidate, criteria model.Criteria) (*Result, error) {
	queries := []string{fmt.Sprintf(searchPromptTemplate,
		c.Domain, c.Name, strings.TrimSpace(c.City+" "+c.State), criteria.Summary())}

	var findings []string
	var profile *Profile

	for iter := 0; iter < a.cfg.MaxIterations; iter++ {
		for _, q := range queries {
			finding, err := a.runSearch(ctx, q)
			if err != nil {
				// Partial findings still structure; a first-round miss does not.
				if len(findings) == 0 {
					return nil, eris.Wrapf(err, "research: search for %s", c.Domain)
				}
				a.log.Warn("follow-up search failed",
					zap.String("domain", c.Domain), zap.Error(err))
				continue
			}
			findings = append(findings, finding)
		}

		var err error
		profile, err = a.structure(ctx, c, criteria, findings)
		if err != nil {
			return nil, eris.Wrapf(err, "research: structure %s", c.Domain)
		}
		if len(profile.FollowUps) == 0 {
			break
		}
		queries = profile.FollowUps
	}

	profile.FollowUps = nil
	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, eris.Wrap(err, "research: marshal profile")
	}

	a.log.Info("research complete",
		zap.String("domain", c.Domain),
		zap.Float64("quality_score", profile.QualityScore),
		zap.Int("findings", len(findings)),
	)
	return &Result{Profile: *profile, Raw: raw}, nil
}

func (a *Agent) runSearch(ctx context.Context, query string) (string, error) {
	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return a.search.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{{Role: "user", Content: query}},
		})
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("research: empty search response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Agent) structure(ctx context.Context, c *model.CompanyCandidate, criteria model.Criteria, findings []string) (*Profile, error) {
	user := fmt.Sprintf("Company: %s (%s)\nCampaign criteria: %s\n\nFindings:\n%s",
		c.Name, c.Domain, criteria.Summary(), strings.Join(findings, "\n---\n"))

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.cfg.Model,
			MaxTokens: a.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(structureSystemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(a.cfg.Model, "research.structure")

	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	profile, err := parseProfile(strings.Join(parts, "\n"))
	if err != nil {
		return nil, eris.Wrap(err, "research: parse profile")
	}
	return profile, nil
}
