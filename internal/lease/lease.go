// Package lease wraps the store's claim primitives with retry and a small
// amount of bookkeeping. Claiming is the only mutual-exclusion mechanism in
// the system: a worker owns a unit of work exactly while it holds an
// unexpired lease on it, and a lease that expires is simply reclaimable by
// anyone else.
package lease

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
)

// Claimer is the slice of the store the lease manager needs.
type Claimer interface {
	ClaimDiscoveryRun(ctx context.Context, workerID string, leaseSeconds int) (*model.Run, error)
	ClaimResearchCandidate(ctx context.Context, workerID string, leaseSeconds int) (*model.CompanyCandidate, error)
	ClaimContactCandidate(ctx context.Context, workerID string, leaseSeconds, maxAttempts int) (*model.CompanyCandidate, error)
	ReleaseRun(ctx context.Context, runID string) error
	ReleaseCandidate(ctx context.Context, candidateID string) error
}

// Config sizes the leases a Manager hands out.
type Config struct {
	LeaseDuration      time.Duration
	MaxContactAttempts int

	// Retry wraps every store call; zero means the store preset.
	Retry resilience.RetryConfig
}

// DefaultConfig matches a worker that heartbeats every 30s: the lease
// outlives several missed beats but a crashed worker's work is reclaimed
// within minutes.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:      5 * time.Minute,
		MaxContactAttempts: 3,
	}
}

// Manager claims and releases units of work on behalf of one worker.
type Manager struct {
	claimer  Claimer
	workerID string
	cfg      Config
	retry    resilience.RetryConfig
	log      *zap.Logger
}

func NewManager(claimer Claimer, workerID string, cfg Config) *Manager {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultConfig().LeaseDuration
	}
	if cfg.MaxContactAttempts <= 0 {
		cfg.MaxContactAttempts = DefaultConfig().MaxContactAttempts
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.StoreRetry()
	}
	return &Manager{
		claimer:  claimer,
		workerID: workerID,
		cfg:      cfg,
		retry:    cfg.Retry,
		log:      zap.L().Named("lease").With(zap.String("worker_id", workerID)),
	}
}

func (m *Manager) leaseSeconds() int {
	return int(m.cfg.LeaseDuration.Seconds())
}

// ClaimDiscoveryRun claims an unclaimed (or lease-expired) active run in the
// discovery stage. Returns (nil, nil) when the backlog is empty.
func (m *Manager) ClaimDiscoveryRun(ctx context.Context) (*model.Run, error) {
	return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*model.Run, error) {
		return m.claimer.ClaimDiscoveryRun(ctx, m.workerID, m.leaseSeconds())
	})
}

// ClaimResearchCandidate claims one unresearched candidate from any active
// research-stage run.
func (m *Manager) ClaimResearchCandidate(ctx context.Context) (*model.CompanyCandidate, error) {
	return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*model.CompanyCandidate, error) {
		return m.claimer.ClaimResearchCandidate(ctx, m.workerID, m.leaseSeconds())
	})
}

// ClaimContactCandidate claims one promoted company still short of its
// run's contact minimum.
func (m *Manager) ClaimContactCandidate(ctx context.Context) (*model.CompanyCandidate, error) {
	return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*model.CompanyCandidate, error) {
		return m.claimer.ClaimContactCandidate(ctx, m.workerID, m.leaseSeconds(), m.cfg.MaxContactAttempts)
	})
}

// ReleaseRun returns a run to the backlog. Release failures are logged and
// swallowed: an unreleased lease self-heals by expiring.
func (m *Manager) ReleaseRun(ctx context.Context, runID string) {
	err := resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.claimer.ReleaseRun(ctx, runID)
	})
	if err != nil {
		m.log.Warn("release run failed, lease will expire on its own",
			zap.String("run_id", runID), zap.Error(err))
	}
}

// ReleaseCandidate returns a candidate to the backlog, same contract as
// ReleaseRun.
func (m *Manager) ReleaseCandidate(ctx context.Context, candidateID string) {
	err := resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.claimer.ReleaseCandidate(ctx, candidateID)
	})
	if err != nil {
		m.log.Warn("release candidate failed, lease will expire on its own",
			zap.String("candidate_id", candidateID), zap.Error(err))
	}
}

// IsClaimable is the eligibility predicate the claim SQL applies, exposed
// for callers that reason about lease state client-side (the monitor, the
// status API). A unit is claimable when unlocked or when its lease lapsed.
func IsClaimable(lockedBy *string, leaseExpiresAt *time.Time, now time.Time) bool {
	if lockedBy == nil || *lockedBy == "" {
		return true
	}
	return leaseExpiresAt != nil && leaseExpiresAt.Before(now)
}
