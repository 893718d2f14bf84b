package heartbeat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/notify"
)

// Sweeper is the slice of the store the monitor reads and repairs through.
type Sweeper interface {
	DeadWorkers(ctx context.Context, threshold time.Duration) ([]model.WorkerHeartbeat, error)
	ReleaseWorkerLeases(ctx context.Context, workerID string) (int64, error)
	DeleteStaleHeartbeats(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MonitorConfig sizes the monitor's sweep loop.
type MonitorConfig struct {
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	DeadMultiplier    int
	StaleAfter        time.Duration // heartbeat rows older than this are deleted
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SweepInterval:     time.Minute,
		HeartbeatInterval: DefaultInterval,
		DeadMultiplier:    5,
		StaleAfter:        24 * time.Hour,
	}
}

// Monitor periodically sweeps for dead workers, force-releases their
// leases, and alerts. Each death is alerted at most once; a worker that
// resumes beating resets its alert state.
type Monitor struct {
	store    Sweeper
	notifier notify.Notifier
	cfg      MonitorConfig
	log      *zap.Logger

	alerted map[string]bool
}

func NewMonitor(store Sweeper, notifier notify.Notifier, cfg MonitorConfig) *Monitor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultMonitorConfig().SweepInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultMonitorConfig().StaleAfter
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      zap.L().Named("heartbeat.monitor"),
		alerted:  make(map[string]bool),
	}
}

// Threshold is the liveness cutoff this monitor applies.
func (m *Monitor) Threshold() time.Duration {
	return model.DeadWorkerThreshold(m.cfg.HeartbeatInterval, m.cfg.DeadMultiplier)
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("starting dead-worker monitor",
		zap.Duration("sweep_interval", m.cfg.SweepInterval),
		zap.Duration("dead_threshold", m.Threshold()),
	)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("dead-worker monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: find dead workers, free their leases, alert on new
// deaths, garbage-collect ancient rows.
func (m *Monitor) Sweep(ctx context.Context) {
	dead, err := m.store.DeadWorkers(ctx, m.Threshold())
	if err != nil {
		m.log.Error("dead worker query failed", zap.Error(err))
		return
	}

	deadNow := make(map[string]bool, len(dead))
	for _, hb := range dead {
		deadNow[hb.WorkerID] = true
		m.handleDead(ctx, hb)
	}

	// A worker that beats again drops off the dead list; re-arm its alert.
	for id := range m.alerted {
		if !deadNow[id] {
			delete(m.alerted, id)
			m.log.Info("worker recovered", zap.String("worker_id", id))
			if err := m.notifier.Send(ctx, notify.Event{
				Type:     notify.EventWorkerRecovered,
				Severity: "info",
				Message:  fmt.Sprintf("Worker %s is beating again", id),
			}); err != nil {
				m.log.Warn("recovery notification failed", zap.Error(err))
			}
		}
	}

	if n, err := m.store.DeleteStaleHeartbeats(ctx, m.cfg.StaleAfter); err != nil {
		m.log.Warn("stale heartbeat cleanup failed", zap.Error(err))
	} else if n > 0 {
		m.log.Info("stale heartbeat rows deleted", zap.Int64("count", n))
	}
}

func (m *Monitor) handleDead(ctx context.Context, hb model.WorkerHeartbeat) {
	freed, err := m.store.ReleaseWorkerLeases(ctx, hb.WorkerID)
	if err != nil {
		m.log.Error("lease release for dead worker failed",
			zap.String("worker_id", hb.WorkerID), zap.Error(err))
		return
	}
	if freed > 0 {
		m.log.Warn("released leases held by dead worker",
			zap.String("worker_id", hb.WorkerID),
			zap.Int64("freed", freed),
			zap.Time("last_heartbeat", hb.LastHeartbeatAt),
		)
	}

	if m.alerted[hb.WorkerID] {
		return
	}
	m.alerted[hb.WorkerID] = true

	err = m.notifier.Send(ctx, notify.Event{
		Type:     notify.EventWorkerDead,
		Severity: "high",
		RunID:    hb.CurrentRunID,
		Message: fmt.Sprintf("Worker %s (%s) stopped heartbeating at %s; released %d lease(s)",
			hb.WorkerID, hb.WorkerType, hb.LastHeartbeatAt.Format(time.RFC3339), freed),
		Details: map[string]any{
			"worker_id":      hb.WorkerID,
			"worker_type":    hb.WorkerType,
			"last_heartbeat": hb.LastHeartbeatAt,
			"current_task":   hb.CurrentTask,
			"leases_freed":   freed,
		},
	})
	if err != nil {
		m.log.Warn("dead worker notification failed",
			zap.String("worker_id", hb.WorkerID), zap.Error(err))
	}
}
