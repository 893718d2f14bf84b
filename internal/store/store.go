// Package store is the data-access facade over the shared backlog: runs,
// company and contact candidates, and worker heartbeats. All coordination
// between worker processes happens through this store; there is no other
// shared state.
package store

import (
	"context"
	"time"

	"github.com/sells-group/campaign-cli/internal/model"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Stage  model.RunStage  `json:"stage,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// NewRun carries the caller-supplied fields for run creation.
type NewRun struct {
	Criteria       model.Criteria
	TargetQuantity int
	ContactsMin    int
	ContactsMax    int
}

// RunCounts summarizes a run's backlog for stage-advancement checks and
// the status API.
type RunCounts struct {
	Companies        int `json:"companies"`
	Unresearched     int `json:"unresearched"`
	Promoted         int `json:"promoted"`
	PromotedContacts int `json:"promoted_contacts"`
	ContactEligible  int `json:"contact_eligible"`
}

// Store defines the persistence operations of the orchestration core.
//
// Claim* methods are the lease primitive: each is a single conditional
// UPDATE that atomically selects one eligible unit and locks it until the
// lease expires, returning (nil, nil) when nothing is eligible. Upsert*
// methods are idempotent on their identity keys so duplicate claims or
// retried writes never create duplicate rows.
type Store interface {
	// Runs.
	CreateRun(ctx context.Context, in NewRun) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	AdvanceStage(ctx context.Context, runID string, from, to model.RunStage) (bool, error)
	SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	AppendRunNotes(ctx context.Context, runID, note string) error
	IncrementCloseAttempts(ctx context.Context, runID string) (int, error)
	ResumeRun(ctx context.Context, runID string, criteria model.Criteria) error
	CompleteRun(ctx context.Context, runID string) error

	// Discovery-stage claims operate on the run itself.
	ClaimDiscoveryRun(ctx context.Context, workerID string, leaseSeconds int) (*model.Run, error)
	ReleaseRun(ctx context.Context, runID string) error

	// Company candidates.
	UpsertCompanies(ctx context.Context, candidates []model.CompanyCandidate) (int64, error)
	ListCompanies(ctx context.Context, runID string, limit int) ([]model.CompanyCandidate, error)
	ClaimResearchCandidate(ctx context.Context, workerID string, leaseSeconds int) (*model.CompanyCandidate, error)
	ClaimContactCandidate(ctx context.Context, workerID string, leaseSeconds, maxAttempts int) (*model.CompanyCandidate, error)
	ReleaseCandidate(ctx context.Context, candidateID string) error
	AttachResearch(ctx context.Context, candidateID string, research []byte, qualityScore float64) (bool, error)
	PromoteTopCandidates(ctx context.Context, runID string, n int) (int64, error)
	IncrementContactAttempts(ctx context.Context, candidateID string) error

	// Contact candidates.
	UpsertContacts(ctx context.Context, contacts []model.ContactCandidate) (int64, error)
	CountContactsForCompany(ctx context.Context, companyID string) (int, error)

	// Aggregates for stage advancement and the status API.
	GetRunCounts(ctx context.Context, runID string, maxContactAttempts int) (*RunCounts, error)

	// Worker heartbeats.
	UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error
	ListHeartbeats(ctx context.Context) ([]model.WorkerHeartbeat, error)
	DeadWorkers(ctx context.Context, threshold time.Duration) ([]model.WorkerHeartbeat, error)
	ReleaseWorkerLeases(ctx context.Context, workerID string) (int64, error)
	DeleteStaleHeartbeats(ctx context.Context, olderThan time.Duration) (int64, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
