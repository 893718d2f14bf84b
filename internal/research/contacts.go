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

const contactSystemPrompt = `You extract decision-maker contacts from raw web research about a company. Respond with a valid JSON object:
{
  "contacts": [
    {
      "full_name": "<name>",
      "title": "<job title>",
      "email": "<email or empty>",
      "linkedin_url": "<profile URL or empty>"
    }
  ]
}
Only include people you have evidence currently work there, owners and executives first. Never invent emails.`

const contactSearchTemplate = `Find decision-makers at the company %s (domain %s, %s).
List owners, executives, and senior managers with their titles, and any published email addresses or LinkedIn profile URLs.`

// ContactFinder discovers contacts for one promoted company.
type ContactFinder interface {
	FindContacts(ctx context.Context, c *model.CompanyCandidate, maxContacts int) ([]model.ContactCandidate, error)
}

type contactPayload struct {
	Contacts []struct {
		FullName    string `json:"full_name"`
		Title       string `json:"title"`
		Email       string `json:"email"`
		LinkedInURL string `json:"linkedin_url"`
	} `json:"contacts"`
}

// ContactAgent is the production ContactFinder, same search-then-structure
// shape as the research agent but single-round: contact sources either
// exist or they do not, iterating rarely helps.
type ContactAgent struct {
	search perplexity.Client
	ai     anthropic.Client
	cfg    AgentConfig
	retry  resilience.RetryConfig
	log    *zap.Logger
}

func NewContactAgent(search perplexity.Client, ai anthropic.Client, cfg AgentConfig) *ContactAgent {
	if cfg.Model == "" {
		cfg.Model = DefaultAgentConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAgentConfig().MaxTokens
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DiscoveryTaskRetry()
	}
	return &ContactAgent{
		search: search,
		ai:     ai,
		cfg:    cfg,
		retry:  cfg.Retry,
		log:    zap.L().Named("contacts"),
	}
}

func (a *ContactAgent) FindContacts(ctx context.Context, c *model.CompanyCandidate, maxContacts int) ([]model.ContactCandidate, error) {
	query := fmt.Sprintf(contactSearchTemplate,
		c.Name, c.Domain, strings.TrimSpace(c.City+" "+c.State))

	searchResp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return a.search.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{{Role: "user", Content: query}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "contacts: search for %s", c.Domain)
	}
	if len(searchResp.Choices) == 0 {
		return nil, eris.New("contacts: empty search response")
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.cfg.Model,
			MaxTokens: a.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(contactSystemPrompt),
			Messages: []anthropic.Message{{
				Role: "user",
				Content: fmt.Sprintf("Company: %s (%s)\n\nFindings:\n%s",
					c.Name, c.Domain, searchResp.Choices[0].Message.Content),
			}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "contacts: structure %s", c.Domain)
	}
	resp.Usage.LogCost(a.cfg.Model, "contacts.structure")

	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	var payload contactPayload
	if err := json.Unmarshal([]byte(cleanJSON(strings.Join(parts, "\n"))), &payload); err != nil {
		return nil, eris.Wrap(err, "contacts: parse response")
	}

	out := make([]model.ContactCandidate, 0, len(payload.Contacts))
	for _, pc := range payload.Contacts {
		if pc.FullName == "" {
			continue
		}
		out = append(out, model.ContactCandidate{
			RunID:       c.RunID,
			CompanyID:   c.ID,
			FullName:    pc.FullName,
			Title:       pc.Title,
			Email:       pc.Email,
			LinkedInURL: pc.LinkedInURL,
		})
		if maxContacts > 0 && len(out) >= maxContacts {
			break
		}
	}

	a.log.Info("contact discovery complete",
		zap.String("domain", c.Domain),
		zap.Int("contacts", len(out)),
	)
	return out, nil
}
