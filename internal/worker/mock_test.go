package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/campaign-cli/internal/lease"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// fakeStore is an in-memory backlog with the same claim, upsert, and
// counting semantics as the SQL store. It backs both the handlers and the
// orchestrator in these tests, so a whole campaign can run in-process.
type fakeStore struct {
	mu         sync.Mutex
	runs       map[string]*model.Run
	candidates map[string]*model.CompanyCandidate
	contacts   map[string]*model.ContactCandidate // keyed run|identity
	maxContact int
	seq        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:       make(map[string]*model.Run),
		candidates: make(map[string]*model.CompanyCandidate),
		contacts:   make(map[string]*model.ContactCandidate),
		maxContact: 3,
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addRun(run *model.Run) *model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID == "" {
		run.ID = f.nextID("run")
	}
	f.runs[run.ID] = run
	return run
}

func (f *fakeStore) seedCandidate(c model.CompanyCandidate) *model.CompanyCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = f.nextID("cand")
	}
	if c.Status == "" {
		c.Status = model.CandidateValidated
	}
	f.candidates[c.ID] = &c
	return &c
}

// --- worker.Store / orchestrator store ---

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) GetRunCounts(_ context.Context, runID string, maxContactAttempts int) (*store.RunCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	counts := &store.RunCounts{}
	for _, c := range f.candidates {
		if c.RunID != runID {
			continue
		}
		counts.Companies++
		if c.Status == model.CandidateValidated && c.ResearchedAt == nil {
			counts.Unresearched++
		}
		if c.Status == model.CandidatePromoted {
			counts.Promoted++
			n := f.contactCountLocked(c.ID)
			counts.PromotedContacts += n
			if c.ContactAttempts < maxContactAttempts && run != nil && n < run.ContactsMin {
				counts.ContactEligible++
			}
		}
	}
	return counts, nil
}

func (f *fakeStore) contactCountLocked(companyID string) int {
	n := 0
	for _, ct := range f.contacts {
		if ct.CompanyID == companyID {
			n++
		}
	}
	return n
}

func (f *fakeStore) UpsertCompanies(_ context.Context, candidates []model.CompanyCandidate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted int64
	for _, c := range candidates {
		domain := model.NormalizeDomain(c.Domain)
		if domain == "" {
			continue
		}
		dup := false
		for _, existing := range f.candidates {
			if existing.RunID == c.RunID && existing.Domain == domain {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		c.ID = f.nextID("cand")
		c.Domain = domain
		if c.Status == "" {
			c.Status = model.CandidateValidated
		}
		cp := c
		f.candidates[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) AttachResearch(_ context.Context, candidateID string, research []byte, score float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[candidateID]
	if !ok || c.ResearchedAt != nil {
		return false, nil
	}
	run := f.runs[c.RunID]
	if run == nil || run.Status != model.RunStatusActive {
		return false, nil
	}
	now := time.Now()
	c.Research = research
	c.QualityScore = score
	c.ResearchedAt = &now
	return true, nil
}

func (f *fakeStore) IncrementContactAttempts(_ context.Context, candidateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.candidates[candidateID]; ok {
		c.ContactAttempts++
	}
	return nil
}

func (f *fakeStore) UpsertContacts(_ context.Context, contacts []model.ContactCandidate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted int64
	for _, ct := range contacts {
		key := ct.RunID + "|" + model.ContactIdentityKey(ct.Email, ct.LinkedInURL, ct.FullName, ct.CompanyID)
		if _, dup := f.contacts[key]; dup {
			continue
		}
		ct.ID = f.nextID("contact")
		cp := ct
		f.contacts[key] = &cp
		inserted++
	}
	return inserted, nil
}

// --- orchestrator store ---

func (f *fakeStore) AdvanceStage(_ context.Context, runID string, from, to model.RunStage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	if run == nil || run.Stage != from || run.Status != model.RunStatusActive {
		return false, nil
	}
	run.Stage = to
	return true, nil
}

func (f *fakeStore) PromoteTopCandidates(_ context.Context, runID string, n int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var eligible []*model.CompanyCandidate
	for _, c := range f.candidates {
		if c.RunID == runID && c.ResearchedAt != nil && c.Status == model.CandidateValidated {
			eligible = append(eligible, c)
		}
	}
	// Highest quality first.
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			if eligible[j].QualityScore > eligible[i].QualityScore {
				eligible[i], eligible[j] = eligible[j], eligible[i]
			}
		}
	}
	var promoted int64
	for i := 0; i < len(eligible) && i < n; i++ {
		eligible[i].Status = model.CandidatePromoted
		promoted++
	}
	return promoted, nil
}

func (f *fakeStore) SetRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		run.Status = status
	}
	return nil
}

func (f *fakeStore) AppendRunNotes(_ context.Context, runID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		if run.Notes == "" {
			run.Notes = note
		} else {
			run.Notes += "\n" + note
		}
	}
	return nil
}

func (f *fakeStore) IncrementCloseAttempts(_ context.Context, runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.CloseAttempts++
	return run.CloseAttempts, nil
}

func (f *fakeStore) ResumeRun(_ context.Context, runID string, criteria model.Criteria) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		run.Status = model.RunStatusActive
		run.CloseAttempts = 0
		if criteria != nil {
			run.Criteria = criteria
		}
	}
	return nil
}

func (f *fakeStore) CompleteRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		run.Stage = model.StageDone
		run.Status = model.RunStatusCompleted
	}
	return nil
}

// --- lease.Claimer ---

func (f *fakeStore) ClaimDiscoveryRun(_ context.Context, workerID string, leaseSeconds int) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, run := range f.runs {
		if run.Status != model.RunStatusActive || run.Stage != model.StageDiscovery {
			continue
		}
		if !lease.IsClaimable(run.LockedBy, run.LeaseExpiresAt, now) {
			continue
		}
		w := workerID
		exp := now.Add(time.Duration(leaseSeconds) * time.Second)
		run.LockedBy = &w
		run.LeaseExpiresAt = &exp
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ClaimResearchCandidate(_ context.Context, workerID string, leaseSeconds int) (*model.CompanyCandidate, error) {
	return f.claimCandidate(workerID, leaseSeconds, func(run *model.Run, c *model.CompanyCandidate) bool {
		return run.Stage == model.StageResearch &&
			c.Status == model.CandidateValidated && c.ResearchedAt == nil
	})
}

func (f *fakeStore) ClaimContactCandidate(_ context.Context, workerID string, leaseSeconds, maxAttempts int) (*model.CompanyCandidate, error) {
	return f.claimCandidate(workerID, leaseSeconds, func(run *model.Run, c *model.CompanyCandidate) bool {
		return run.Stage == model.StageContactDiscovery &&
			c.Status == model.CandidatePromoted &&
			c.ContactAttempts < maxAttempts &&
			f.contactCountLocked(c.ID) < run.ContactsMin
	})
}

func (f *fakeStore) claimCandidate(workerID string, leaseSeconds int, eligible func(*model.Run, *model.CompanyCandidate) bool) (*model.CompanyCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, c := range f.candidates {
		run := f.runs[c.RunID]
		if run == nil || run.Status != model.RunStatusActive {
			continue
		}
		if !eligible(run, c) || !lease.IsClaimable(c.LockedBy, c.LeaseExpiresAt, now) {
			continue
		}
		w := workerID
		exp := now.Add(time.Duration(leaseSeconds) * time.Second)
		c.LockedBy = &w
		c.LeaseExpiresAt = &exp
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ReleaseRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		run.LockedBy = nil
		run.LeaseExpiresAt = nil
	}
	return nil
}

func (f *fakeStore) ReleaseCandidate(_ context.Context, candidateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.candidates[candidateID]; ok {
		c.LockedBy = nil
		c.LeaseExpiresAt = nil
	}
	return nil
}

// nopTasks satisfies TaskReporter without a real heartbeat table.
type nopTasks struct{}

func (nopTasks) UpdateTask(context.Context, string, string, *time.Time) {}
func (nopTasks) MarkIdle(context.Context)                               {}
