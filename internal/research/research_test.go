package research

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
)

type fakeSearch struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (f *fakeSearch) ChatCompletion(_ context.Context, _ perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	content := "no findings"
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return &perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: content}}},
	}, nil
}

type fakeAI struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *fakeAI) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	reply := f.replies[len(f.replies)-1]
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: reply}},
	}, nil
}

func fastAgent(search perplexity.Client, ai anthropic.Client, cfg AgentConfig) *Agent {
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 1}
	return NewAgent(search, ai, cfg)
}

func candidate() *model.CompanyCandidate {
	return &model.CompanyCandidate{
		Domain: "acme.com", Name: "Acme", City: "Austin", State: "TX",
	}
}

func TestResearchSingleRound(t *testing.T) {
	search := &fakeSearch{responses: []string{"Acme does HVAC in Austin."}}
	ai := &fakeAI{replies: []string{
		`{"summary": "Acme is an HVAC contractor.", "quality_score": 0.8}`,
	}}
	a := fastAgent(search, ai, AgentConfig{})

	res, err := a.Research(context.Background(), candidate(), model.Criteria{"city": "Austin"})
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.Profile.QualityScore)
	assert.Equal(t, "Acme is an HVAC contractor.", res.Profile.Summary)
	assert.JSONEq(t, `{"summary": "Acme is an HVAC contractor.", "quality_score": 0.8}`, string(res.Raw))
	assert.Equal(t, 1, search.calls)
	assert.Equal(t, 1, ai.calls)
}

func TestResearchFollowsUp(t *testing.T) {
	search := &fakeSearch{responses: []string{"Acme does HVAC.", "Founded 2009, ~40 employees."}}
	ai := &fakeAI{replies: []string{
		`{"summary": "Acme does HVAC.", "quality_score": 0.5, "follow_up_queries": ["acme.com founding year employees"]}`,
		`{"summary": "Acme does HVAC.", "year_founded": 2009, "employee_range": "11-50", "quality_score": 0.85}`,
	}}
	a := fastAgent(search, ai, AgentConfig{})

	res, err := a.Research(context.Background(), candidate(), model.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 2, search.calls)
	assert.Equal(t, 2, ai.calls)
	assert.Equal(t, 2009, res.Profile.YearFounded)
	assert.Empty(t, res.Profile.FollowUps)
}

func TestResearchIterationCap(t *testing.T) {
	// The model keeps asking for more; the cap cuts it off.
	greedy := `{"summary": "x", "quality_score": 0.4, "follow_up_queries": ["more"]}`
	search := &fakeSearch{}
	ai := &fakeAI{replies: []string{greedy}}
	a := fastAgent(search, ai, AgentConfig{MaxIterations: 2})

	res, err := a.Research(context.Background(), candidate(), model.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 2, search.calls)
	assert.Equal(t, 2, ai.calls)
	assert.Empty(t, res.Profile.FollowUps)
}

func TestResearchFirstSearchFailureErrors(t *testing.T) {
	search := &fakeSearch{errs: []error{assert.AnError}}
	ai := &fakeAI{replies: []string{`{}`}}
	a := fastAgent(search, ai, AgentConfig{})

	_, err := a.Research(context.Background(), candidate(), model.Criteria{})
	assert.Error(t, err)
	assert.Equal(t, 0, ai.calls)
}

func TestResearchToleratesFollowUpFailure(t *testing.T) {
	search := &fakeSearch{
		responses: []string{"Acme does HVAC."},
		errs:      []error{nil, assert.AnError},
	}
	ai := &fakeAI{replies: []string{
		`{"summary": "Acme does HVAC.", "quality_score": 0.5, "follow_up_queries": ["more"]}`,
		`{"summary": "Acme does HVAC.", "quality_score": 0.6}`,
	}}
	a := fastAgent(search, ai, AgentConfig{})

	res, err := a.Research(context.Background(), candidate(), model.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 0.6, res.Profile.QualityScore)
}

func TestResearchRetriesTransientSearch(t *testing.T) {
	search := &fakeSearch{
		errs:      []error{assert.AnError, nil},
		responses: []string{"", "Acme does HVAC."},
	}
	ai := &fakeAI{replies: []string{`{"summary": "ok", "quality_score": 0.7}`}}
	a := NewAgent(search, ai, AgentConfig{
		Retry: resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	res, err := a.Research(context.Background(), candidate(), model.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 0.7, res.Profile.QualityScore)
	assert.Equal(t, 2, search.calls)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", "Here you go:\n{\"a\": 1}\nHope that helps.", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseProfileClampsScore(t *testing.T) {
	p, err := parseProfile(`{"summary": "x", "quality_score": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.QualityScore)

	p, err = parseProfile(`{"summary": "x", "quality_score": -0.3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.QualityScore)

	_, err = parseProfile("not json at all")
	assert.Error(t, err)
}

func TestParseProfileRejectsGarbage(t *testing.T) {
	for i, in := range []string{"", "[]", fmt.Sprintf("%q", "a string")} {
		_, err := parseProfile(in)
		assert.Error(t, err, "case %d", i)
	}
}
