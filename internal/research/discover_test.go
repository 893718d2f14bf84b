package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/region"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
)

func fastDiscoveryAgent(search perplexity.Client, ai anthropic.Client) *DiscoveryAgent {
	return NewDiscoveryAgent(search, ai, AgentConfig{
		Retry: resilience.RetryConfig{MaxAttempts: 1},
	})
}

func northAustin() region.Region {
	return region.Region{
		Name:        "Austin NW",
		Description: "Northwest Austin",
		SearchFocus: "businesses north of the river and west of I-35",
	}
}

func TestDiscoverySearchStructuresCandidates(t *testing.T) {
	search := &fakeSearch{responses: []string{"Cool Air HVAC (coolair.com), Frosty Repairs (frostyrepairs.com)"}}
	ai := &fakeAI{replies: []string{`{
		"companies": [
			{"name": "Cool Air HVAC", "domain": "https://www.coolair.com/about", "city": "Austin", "state": "TX", "quality_score": 0.9},
			{"name": "Frosty Repairs", "domain": "frostyrepairs.com", "city": "Austin", "state": "TX", "quality_score": 1.4},
			{"name": "No Domain LLC", "domain": "", "city": "Austin", "state": "TX", "quality_score": 0.8}
		],
		"exhausted": false
	}`}}
	a := fastDiscoveryAgent(search, ai)

	found, exhausted, err := a.Search(context.Background(),
		model.Criteria{"city": "Austin", "vertical": "HVAC"}, northAustin(), 10)
	require.NoError(t, err)
	assert.False(t, exhausted)
	require.Len(t, found, 2, "the company without a domain is dropped")

	assert.Equal(t, "coolair.com", found[0].Domain, "domain is normalized")
	assert.Equal(t, model.CandidateValidated, found[0].Status)
	assert.Equal(t, 0.9, found[0].QualityScore)
	assert.Equal(t, 1.0, found[1].QualityScore, "score is clamped to [0,1]")
}

func TestDiscoverySearchHonorsLimit(t *testing.T) {
	search := &fakeSearch{responses: []string{"lots of companies"}}
	ai := &fakeAI{replies: []string{`{
		"companies": [
			{"name": "A", "domain": "a.example.com", "quality_score": 0.5},
			{"name": "B", "domain": "b.example.com", "quality_score": 0.5},
			{"name": "C", "domain": "c.example.com", "quality_score": 0.5}
		],
		"exhausted": false
	}`}}
	a := fastDiscoveryAgent(search, ai)

	found, _, err := a.Search(context.Background(), model.Criteria{"vertical": "HVAC"}, northAustin(), 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestDiscoverySearchReportsExhaustion(t *testing.T) {
	search := &fakeSearch{responses: []string{"only one shop here"}}
	ai := &fakeAI{replies: []string{`{
		"companies": [{"name": "Last One", "domain": "lastone.example.com", "quality_score": 0.7}],
		"exhausted": true
	}`}}
	a := fastDiscoveryAgent(search, ai)

	found, exhausted, err := a.Search(context.Background(), model.Criteria{"vertical": "HVAC"}, northAustin(), 10)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Len(t, found, 1)
}

func TestDiscoverySearchZeroLimitShortCircuits(t *testing.T) {
	search := &fakeSearch{}
	ai := &fakeAI{replies: []string{`{}`}}
	a := fastDiscoveryAgent(search, ai)

	found, exhausted, err := a.Search(context.Background(), model.Criteria{"vertical": "HVAC"}, northAustin(), 0)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.False(t, exhausted)
	assert.Equal(t, 0, search.calls)
}

func TestDiscoverySearchSearchFailure(t *testing.T) {
	search := &fakeSearch{errs: []error{assert.AnError}}
	ai := &fakeAI{replies: []string{`{}`}}
	a := fastDiscoveryAgent(search, ai)

	_, _, err := a.Search(context.Background(), model.Criteria{"vertical": "HVAC"}, northAustin(), 10)
	assert.Error(t, err)
	assert.Equal(t, 0, ai.calls)
}

func TestDiscoverySearchGarbageResponse(t *testing.T) {
	search := &fakeSearch{responses: []string{"results"}}
	ai := &fakeAI{replies: []string{"I could not find any businesses."}}
	a := fastDiscoveryAgent(search, ai)

	_, _, err := a.Search(context.Background(), model.Criteria{"vertical": "HVAC"}, northAustin(), 10)
	assert.Error(t, err)
}
