// Package research enriches a discovered company into a structured profile.
// The agent alternates between web search (Perplexity) and structuring
// (Claude): search gathers raw findings, the model turns them into the
// profile and may request one or two follow-up searches to fill holes.
package research

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sells-group/campaign-cli/internal/model"
)

// Profile is the structured outcome of researching one company.
type Profile struct {
	Summary       string   `json:"summary"`
	Services      []string `json:"services,omitempty"`
	EmployeeRange string   `json:"employee_range,omitempty"`
	YearFounded   int      `json:"year_founded,omitempty"`
	Signals       []string `json:"signals,omitempty"`
	QualityScore  float64  `json:"quality_score"`
	FollowUps     []string `json:"follow_up_queries,omitempty"`
}

// Result pairs the profile with the raw JSON stored on the candidate.
type Result struct {
	Profile Profile
	Raw     []byte
}

// Runner researches one candidate against its run's criteria.
type Runner interface {
	Research(ctx context.Context, c *model.CompanyCandidate, criteria model.Criteria) (*Result, error)
}

// cleanJSON extracts a JSON object from model output that may carry
// markdown code fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func parseProfile(text string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(cleanJSON(text)), &p); err != nil {
		return nil, err
	}
	if p.QualityScore < 0 {
		p.QualityScore = 0
	}
	if p.QualityScore > 1 {
		p.QualityScore = 1
	}
	return &p, nil
}
