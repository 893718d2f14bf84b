package model

import (
	"time"
)

// WorkerStatus reflects what a worker process reported it was doing on its
// last heartbeat.
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerActive     WorkerStatus = "active"
	WorkerProcessing WorkerStatus = "processing"
	WorkerStopped    WorkerStatus = "stopped"
)

// WorkerHeartbeat is one row per live worker process. A worker is dead if
// its last heartbeat is older than the liveness threshold; crashed workers
// leave stale rows behind rather than deleting them.
type WorkerHeartbeat struct {
	WorkerID        string         `json:"worker_id" db:"worker_id"`
	WorkerType      string         `json:"worker_type" db:"worker_type"`
	Status          WorkerStatus   `json:"status" db:"status"`
	CurrentRunID    string         `json:"current_run_id,omitempty" db:"current_run_id"`
	CurrentTask     string         `json:"current_task,omitempty" db:"current_task"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	LeaseExpiresAt  *time.Time     `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	Metadata        map[string]any `json:"metadata,omitempty" db:"metadata"`
	StartedAt       time.Time      `json:"started_at" db:"started_at"`
}

// Dead reports whether the heartbeat has lapsed past the threshold at the
// given instant. Gracefully stopped workers are never classified dead.
func (h *WorkerHeartbeat) Dead(now time.Time, threshold time.Duration) bool {
	if h.Status == WorkerStopped {
		return false
	}
	return now.Sub(h.LastHeartbeatAt) > threshold
}

// DeadWorkerThreshold derives the liveness threshold from the heartbeat
// interval: multiplier x interval with a two minute floor, so a single
// delayed beat can never mark a worker dead.
func DeadWorkerThreshold(interval time.Duration, multiplier int) time.Duration {
	if multiplier < 2 {
		multiplier = 2
	}
	threshold := time.Duration(multiplier) * interval
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}
	return threshold
}
