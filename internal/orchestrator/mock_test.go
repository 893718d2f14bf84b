package orchestrator

import (
	"context"
	"sync"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/notify"
	"github.com/sells-group/campaign-cli/internal/store"
)

// fakeRunStore is an in-memory runStore with the same stage CAS semantics
// as the SQL store.
type fakeRunStore struct {
	mu       sync.Mutex
	run      *model.Run
	counts   store.RunCounts
	promoted []int // n passed to each PromoteTopCandidates call
	resumed  int
}

func (f *fakeRunStore) GetRun(context.Context, string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.run
	return &cp, nil
}

func (f *fakeRunStore) GetRunCounts(context.Context, string, int) (*store.RunCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.counts
	return &cp, nil
}

func (f *fakeRunStore) AdvanceStage(_ context.Context, _ string, from, to model.RunStage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run.Stage != from || f.run.Status != model.RunStatusActive {
		return false, nil
	}
	f.run.Stage = to
	return true, nil
}

func (f *fakeRunStore) PromoteTopCandidates(_ context.Context, _ string, n int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, n)
	if n > f.counts.Companies {
		n = f.counts.Companies
	}
	already := f.counts.Promoted
	f.counts.Promoted = n
	return int64(n - already), nil
}

func (f *fakeRunStore) SetRunStatus(_ context.Context, _ string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Status = status
	return nil
}

func (f *fakeRunStore) AppendRunNotes(_ context.Context, _ string, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run.Notes == "" {
		f.run.Notes = note
	} else {
		f.run.Notes += "\n" + note
	}
	return nil
}

func (f *fakeRunStore) IncrementCloseAttempts(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.CloseAttempts++
	return f.run.CloseAttempts, nil
}

func (f *fakeRunStore) ResumeRun(_ context.Context, _ string, criteria model.Criteria) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
	f.run.Status = model.RunStatusActive
	f.run.CloseAttempts = 0
	if criteria != nil {
		f.run.Criteria = criteria
	}
	return nil
}

func (f *fakeRunStore) CompleteRun(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Stage = model.StageDone
	f.run.Status = model.RunStatusCompleted
	return nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Send(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureNotifier) types() []notify.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func activeRun(stage model.RunStage) *model.Run {
	return &model.Run{
		ID:             "run-1",
		Status:         model.RunStatusActive,
		Stage:          stage,
		Criteria:       model.Criteria{"city": "Austin", "vertical": "HVAC"},
		TargetQuantity: 25,
		ContactsMin:    2,
		ContactsMax:    3,
	}
}
