// Package worker runs the poll loop that drives a campaign forward: claim
// one unit of work, handle it, write results idempotently, release the
// lease, and ask the orchestrator to advance the run. One worker process
// handles one stage; scale-out is just more processes.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/store"
)

// Store is the slice of the data layer the stage handlers write through.
type Store interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetRunCounts(ctx context.Context, runID string, maxContactAttempts int) (*store.RunCounts, error)
	UpsertCompanies(ctx context.Context, candidates []model.CompanyCandidate) (int64, error)
	AttachResearch(ctx context.Context, candidateID string, research []byte, qualityScore float64) (bool, error)
	IncrementContactAttempts(ctx context.Context, candidateID string) error
	UpsertContacts(ctx context.Context, contacts []model.ContactCandidate) (int64, error)
}

// Leases claims and releases units of work. Satisfied by *lease.Manager.
type Leases interface {
	ClaimDiscoveryRun(ctx context.Context) (*model.Run, error)
	ClaimResearchCandidate(ctx context.Context) (*model.CompanyCandidate, error)
	ClaimContactCandidate(ctx context.Context) (*model.CompanyCandidate, error)
	ReleaseRun(ctx context.Context, runID string)
	ReleaseCandidate(ctx context.Context, candidateID string)
}

// TaskReporter mirrors worker state into heartbeats, including the expiry
// of the lease being worked. Satisfied by *heartbeat.Emitter.
type TaskReporter interface {
	UpdateTask(ctx context.Context, runID, task string, leaseExpiresAt *time.Time)
	MarkIdle(ctx context.Context)
}

// Advancer re-checks stage gaps after completed work. Satisfied by
// *orchestrator.Orchestrator.
type Advancer interface {
	Advance(ctx context.Context, runID string) (*orchestrator.Progress, error)
	RecordSearchExhausted(ctx context.Context, runID string, remaining int) error
}

// Handler processes one unit of its stage per call. worked is false when
// nothing was claimable this tick.
type Handler interface {
	Stage() model.RunStage
	HandleOne(ctx context.Context) (worked bool, err error)
}

// DefaultIdleSleep is the pause between empty claims.
const DefaultIdleSleep = 15 * time.Second

// Loop drives a Handler until the context ends.
type Loop struct {
	handler Handler
	idle    time.Duration
	log     *zap.Logger
}

func NewLoop(handler Handler, idleSleep time.Duration) *Loop {
	if idleSleep <= 0 {
		idleSleep = DefaultIdleSleep
	}
	return &Loop{
		handler: handler,
		idle:    idleSleep,
		log:     zap.L().Named("worker").With(zap.String("stage", string(handler.Stage()))),
	}
}

// Run polls until ctx is cancelled. A failed unit is logged and the loop
// moves on; the released (or expiring) lease puts the unit back in the
// backlog for a later pass.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker loop starting", zap.Duration("idle_sleep", l.idle))

	for {
		if ctx.Err() != nil {
			l.log.Info("worker loop stopped")
			return nil
		}

		worked, err := l.handler.HandleOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.log.Error("unit of work failed", zap.Error(err))
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(l.idle):
		}
	}
}
