package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/region"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
)

const discoverSystemPrompt = `You extract business listings from raw web search results. Respond with a valid JSON object:
{
  "companies": [
    {"name": "<business name>", "domain": "<website domain>", "city": "<city>", "state": "<state>", "quality_score": <0.0-1.0 fit against the stated criteria>}
  ],
  "exhausted": <true when the search results show the region genuinely has no further matching businesses, false otherwise>
}
Only include companies with a real website domain. Never invent domains. Set exhausted conservatively: an ambiguous or thin result set is not proof of exhaustion.`

const discoverPromptTemplate = `Find businesses matching: %s.
Region: %s (%s). %s
List up to %d distinct businesses with their website, city, and state. Skip national chains and aggregator/directory sites.`

// DiscoveryAgent finds company candidates for one region of a run's search
// space. It satisfies the dispatcher's Searcher contract: the fan-out,
// retries, and cross-region dedup all live in the dispatcher, so this agent
// only ever thinks about a single region at a time.
type DiscoveryAgent struct {
	search perplexity.Client
	ai     anthropic.Client
	cfg    AgentConfig
	retry  resilience.RetryConfig
	log    *zap.Logger
}

func NewDiscoveryAgent(search perplexity.Client, ai anthropic.Client, cfg AgentConfig) *DiscoveryAgent {
	if cfg.Model == "" {
		cfg.Model = DefaultAgentConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAgentConfig().MaxTokens
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DiscoveryTaskRetry()
	}
	return &DiscoveryAgent{
		search: search,
		ai:     ai,
		cfg:    cfg,
		retry:  cfg.Retry,
		log:    zap.L().Named("research.discover"),
	}
}

type discoverPayload struct {
	Companies []struct {
		Name         string  `json:"name"`
		Domain       string  `json:"domain"`
		City         string  `json:"city"`
		State        string  `json:"state"`
		QualityScore float64 `json:"quality_score"`
	} `json:"companies"`
	Exhausted bool `json:"exhausted"`
}

// Search gathers raw listings for the region and structures them into
// candidates. Exhaustion is the model's judgement that the region holds
// nothing more, which the dispatcher only honors when every region agrees.
func (a *DiscoveryAgent) Search(ctx context.Context, criteria model.Criteria, reg region.Region, limit int) ([]model.CompanyCandidate, bool, error) {
	if limit <= 0 {
		return nil, false, nil
	}

	query := fmt.Sprintf(discoverPromptTemplate,
		criteria.Summary(), reg.Name, reg.Description, reg.SearchFocus, limit)

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return a.search.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{{Role: "user", Content: query}},
		})
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "discover: search region %s", reg.Name)
	}
	if len(resp.Choices) == 0 {
		return nil, false, eris.New("discover: empty search response")
	}

	payload, err := a.structure(ctx, criteria, reg, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, false, eris.Wrapf(err, "discover: structure region %s", reg.Name)
	}

	candidates := make([]model.CompanyCandidate, 0, len(payload.Companies))
	for _, c := range payload.Companies {
		domain := model.NormalizeDomain(c.Domain)
		if domain == "" || c.Name == "" {
			continue
		}
		score := c.QualityScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, model.CompanyCandidate{
			Domain:       domain,
			Name:         c.Name,
			City:         c.City,
			State:        c.State,
			Status:       model.CandidateValidated,
			QualityScore: score,
		})
		if len(candidates) == limit {
			break
		}
	}

	a.log.Info("region search complete",
		zap.String("region", reg.Name),
		zap.Int("found", len(candidates)),
		zap.Bool("exhausted", payload.Exhausted),
	)
	return candidates, payload.Exhausted, nil
}

func (a *DiscoveryAgent) structure(ctx context.Context, criteria model.Criteria, reg region.Region, raw string) (*discoverPayload, error) {
	user := fmt.Sprintf("Criteria: %s\nRegion: %s\n\nSearch results:\n%s",
		criteria.Summary(), reg.Name, raw)

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.cfg.Model,
			MaxTokens: a.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(discoverSystemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(a.cfg.Model, "research.discover")

	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}

	var payload discoverPayload
	if err := json.Unmarshal([]byte(cleanJSON(strings.Join(parts, "\n"))), &payload); err != nil {
		return nil, eris.Wrap(err, "discover: parse response")
	}
	return &payload, nil
}
