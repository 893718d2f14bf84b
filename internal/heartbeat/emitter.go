// Package heartbeat keeps the worker_heartbeats table truthful: the emitter
// beats on behalf of one worker process, the monitor sweeps for workers
// that stopped beating and frees whatever they were holding.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
)

// DefaultInterval is the beat period when none is configured.
const DefaultInterval = 30 * time.Second

// Beater is the slice of the store the emitter writes through.
type Beater interface {
	UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error
}

// Emitter periodically reports one worker's liveness and current task.
// Beat writes are best-effort: a failed beat is logged and retried on the
// next tick, and the monitor's threshold absorbs a few missed beats.
type Emitter struct {
	store    Beater
	interval time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	state model.WorkerHeartbeat

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewEmitter(store Beater, workerID, workerType string, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Emitter{
		store:    store,
		interval: interval,
		log:      zap.L().Named("heartbeat").With(zap.String("worker_id", workerID)),
		state: model.WorkerHeartbeat{
			WorkerID:   workerID,
			WorkerType: workerType,
			Status:     model.WorkerIdle,
			StartedAt:  time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
}

// Start beats once immediately, then on every tick until Stop or context
// cancellation. The immediate beat makes a fresh worker visible before it
// claims anything.
func (e *Emitter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.beat(ctx)

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.beat(ctx)
			}
		}
	}()
}

// UpdateTask records what the worker is doing right now and beats
// out-of-band, so long tasks show fresh state without waiting for a tick.
// leaseExpiresAt is the expiry of the claim being worked, nil when the
// task holds no lease.
func (e *Emitter) UpdateTask(ctx context.Context, runID, task string, leaseExpiresAt *time.Time) {
	e.mu.Lock()
	e.state.Status = model.WorkerProcessing
	e.state.CurrentRunID = runID
	e.state.CurrentTask = task
	e.state.LeaseExpiresAt = leaseExpiresAt
	e.mu.Unlock()
	e.beat(ctx)
}

// MarkIdle clears the current task after a unit of work finishes.
func (e *Emitter) MarkIdle(ctx context.Context) {
	e.mu.Lock()
	e.state.Status = model.WorkerIdle
	e.state.CurrentRunID = ""
	e.state.CurrentTask = ""
	e.state.LeaseExpiresAt = nil
	e.mu.Unlock()
	e.beat(ctx)
}

// Stop ends the beat loop and writes a final stopped beat so the monitor
// can tell a graceful shutdown from a crash. Safe to call more than once.
func (e *Emitter) Stop(ctx context.Context) {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
			<-e.done
		}

		e.mu.Lock()
		e.state.Status = model.WorkerStopped
		e.state.CurrentRunID = ""
		e.state.CurrentTask = ""
		e.state.LeaseExpiresAt = nil
		e.mu.Unlock()

		// The loop context is gone; the final beat rides the caller's.
		e.beat(ctx)
		e.log.Info("heartbeat emitter stopped")
	})
}

func (e *Emitter) beat(ctx context.Context) {
	e.mu.Lock()
	hb := e.state
	e.mu.Unlock()

	if err := e.store.UpsertHeartbeat(ctx, &hb); err != nil {
		e.log.Warn("heartbeat write failed", zap.Error(err))
	}
}
