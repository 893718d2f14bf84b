package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/notify"
	"github.com/sells-group/campaign-cli/internal/store"
)

func TestAdvanceDiscoveryGapOpen(t *testing.T) {
	fake := &fakeRunStore{
		run:    activeRun(model.StageDiscovery),
		counts: store.RunCounts{Companies: 30},
	}
	o := New(fake, nil, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, prog.Advanced)
	assert.Equal(t, model.StageDiscovery, fake.run.Stage)
	// Target 25 oversampled x2 = 50; 30 found leaves 20.
	assert.Equal(t, 20, prog.Remaining)
}

func TestAdvanceDiscoveryGapClosed(t *testing.T) {
	fake := &fakeRunStore{
		run:    activeRun(model.StageDiscovery),
		counts: store.RunCounts{Companies: 60},
	}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, prog.Advanced)
	assert.Zero(t, prog.Remaining)
	assert.Equal(t, model.StageResearch, fake.run.Stage)
	assert.Equal(t, []notify.EventType{notify.EventStageAdvanced}, notifier.types())
	assert.Contains(t, fake.run.Notes, "advancing to research")
}

func TestAdvanceResearchPromotesTopCandidates(t *testing.T) {
	fake := &fakeRunStore{
		run:    activeRun(model.StageResearch),
		counts: store.RunCounts{Companies: 50, Unresearched: 0},
	}
	o := New(fake, nil, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, prog.Advanced)
	assert.Equal(t, model.StageContactDiscovery, fake.run.Stage)
	assert.Equal(t, []int{25}, fake.promoted)
}

func TestAdvanceResearchWaitsForBacklog(t *testing.T) {
	fake := &fakeRunStore{
		run:    activeRun(model.StageResearch),
		counts: store.RunCounts{Companies: 50, Unresearched: 7},
	}
	o := New(fake, nil, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, prog.Advanced)
	assert.Equal(t, 7, prog.Remaining)
	assert.Empty(t, fake.promoted)
}

func TestAdvanceContactCompletesRun(t *testing.T) {
	fake := &fakeRunStore{
		run: activeRun(model.StageContactDiscovery),
		// 25 promoted x 2 contacts min = 50, all present.
		counts: store.RunCounts{Promoted: 25, PromotedContacts: 50},
	}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, prog.Completed)
	assert.Equal(t, model.StageDone, fake.run.Stage)
	assert.Equal(t, model.RunStatusCompleted, fake.run.Status)
	assert.Equal(t, []notify.EventType{notify.EventRunCompleted}, notifier.types())
}

func TestAdvanceContactEscalatesAfterFailedPasses(t *testing.T) {
	fake := &fakeRunStore{
		run: activeRun(model.StageContactDiscovery),
		// Gap open, nothing left to claim.
		counts: store.RunCounts{Promoted: 25, PromotedContacts: 30, ContactEligible: 0},
	}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	for i := 0; i < 2; i++ {
		prog, err := o.Advance(context.Background(), "run-1")
		require.NoError(t, err)
		assert.False(t, prog.Escalated)
		assert.Equal(t, model.RunStatusActive, fake.run.Status)
	}

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, prog.Escalated)
	assert.Equal(t, model.RunStatusNeedsUserDecision, fake.run.Status)
	assert.Equal(t, []notify.EventType{notify.EventDecisionRequired}, notifier.types())
	assert.Contains(t, fake.run.Notes, "accept partial")

	// Terminal now: further Advance calls are no-ops.
	prog, err = o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, prog.Advanced)
	assert.Equal(t, 3, fake.run.CloseAttempts)
}

func TestAdvanceContactPassStillOpen(t *testing.T) {
	fake := &fakeRunStore{
		run:    activeRun(model.StageContactDiscovery),
		counts: store.RunCounts{Promoted: 25, PromotedContacts: 30, ContactEligible: 4},
	}
	o := New(fake, nil, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, prog.Escalated)
	assert.Equal(t, 20, prog.Remaining)
	assert.Zero(t, fake.run.CloseAttempts)
}

func TestRecordSearchExhausted(t *testing.T) {
	fake := &fakeRunStore{run: activeRun(model.StageDiscovery)}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	for i := 0; i < 3; i++ {
		require.NoError(t, o.RecordSearchExhausted(context.Background(), "run-1", 12))
	}
	assert.Equal(t, model.RunStatusNeedsUserDecision, fake.run.Status)
	assert.Contains(t, fake.run.Notes, "search space exhausted with 12")
}

func TestAdvanceMalformedCriteriaFailsRun(t *testing.T) {
	run := activeRun(model.StageDiscovery)
	run.Criteria = model.Criteria{}
	fake := &fakeRunStore{run: run}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	_, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, fake.run.Status)
	assert.Equal(t, []notify.EventType{notify.EventRunError}, notifier.types())
}

func TestAdvanceIgnoresNonActiveRuns(t *testing.T) {
	run := activeRun(model.StageContactDiscovery)
	run.Status = model.RunStatusNeedsUserDecision
	fake := &fakeRunStore{run: run}
	o := New(fake, nil, DefaultConfig())

	prog, err := o.Advance(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, prog.Advanced)
	assert.False(t, prog.Escalated)
}

func TestDecideAcceptPartial(t *testing.T) {
	run := activeRun(model.StageContactDiscovery)
	run.Status = model.RunStatusNeedsUserDecision
	fake := &fakeRunStore{run: run}
	notifier := &captureNotifier{}
	o := New(fake, notifier, DefaultConfig())

	err := o.Decide(context.Background(), "run-1", DecisionAcceptPartial, "good enough", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StageDone, fake.run.Stage)
	assert.Equal(t, model.RunStatusCompleted, fake.run.Status)
	assert.Contains(t, fake.run.Notes, "operator decision: accept_partial: good enough")
	assert.Equal(t, []notify.EventType{notify.EventRunCompleted}, notifier.types())
}

func TestDecideBroadenScopeResumes(t *testing.T) {
	run := activeRun(model.StageDiscovery)
	run.Status = model.RunStatusNeedsUserDecision
	run.CloseAttempts = 3
	fake := &fakeRunStore{run: run}
	o := New(fake, nil, DefaultConfig())

	wider := model.Criteria{"state": "TX", "vertical": "HVAC"}
	err := o.Decide(context.Background(), "run-1", DecisionBroadenScope, "state-wide", wider)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusActive, fake.run.Status)
	assert.Zero(t, fake.run.CloseAttempts)
	assert.Equal(t, "TX", fake.run.Criteria.State())
	assert.Equal(t, 1, fake.resumed)
}

func TestDecideRejectsActiveRun(t *testing.T) {
	fake := &fakeRunStore{run: activeRun(model.StageDiscovery)}
	o := New(fake, nil, DefaultConfig())

	err := o.Decide(context.Background(), "run-1", DecisionAcceptPartial, "", nil)
	assert.Error(t, err)
}

func TestDecideRejectsInvalidCriteria(t *testing.T) {
	run := activeRun(model.StageDiscovery)
	run.Status = model.RunStatusNeedsUserDecision
	fake := &fakeRunStore{run: run}
	o := New(fake, nil, DefaultConfig())

	err := o.Decide(context.Background(), "run-1", DecisionBroadenScope, "", model.Criteria{})
	assert.Error(t, err)
	assert.Equal(t, model.RunStatusNeedsUserDecision, fake.run.Status)
}

func TestParseDecision(t *testing.T) {
	for _, valid := range []string{"accept_partial", "broaden_scope", "relax_constraint"} {
		d, err := ParseDecision(valid)
		require.NoError(t, err)
		assert.Equal(t, Decision(valid), d)
	}
	_, err := ParseDecision("give_up")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown decision"))
}
