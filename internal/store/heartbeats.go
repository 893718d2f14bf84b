package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/model"
)

const heartbeatColumns = `worker_id, worker_type, status, current_run_id, current_task,
	last_heartbeat_at, lease_expires_at, metadata, started_at`

func scanHeartbeat(row pgx.Row) (*model.WorkerHeartbeat, error) {
	var hb model.WorkerHeartbeat
	var metadata []byte
	err := row.Scan(&hb.WorkerID, &hb.WorkerType, &hb.Status, &hb.CurrentRunID,
		&hb.CurrentTask, &hb.LastHeartbeatAt, &hb.LeaseExpiresAt, &metadata, &hb.StartedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &hb.Metadata); err != nil {
			return nil, eris.Wrap(err, "store: heartbeat metadata")
		}
	}
	return &hb, nil
}

// UpsertHeartbeat records a liveness beat, creating the worker row on
// first contact. last_heartbeat_at is always stamped server-side.
func (s *PostgresStore) UpsertHeartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error {
	metadata, err := json.Marshal(hb.Metadata)
	if err != nil {
		return eris.Wrap(err, "store: marshal heartbeat metadata")
	}
	if hb.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO worker_heartbeats
			(worker_id, worker_type, status, current_run_id, current_task, last_heartbeat_at, lease_expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, now(), $6, $7)
		 ON CONFLICT (worker_id) DO UPDATE SET
			worker_type = EXCLUDED.worker_type,
			status = EXCLUDED.status,
			current_run_id = EXCLUDED.current_run_id,
			current_task = EXCLUDED.current_task,
			last_heartbeat_at = now(),
			lease_expires_at = EXCLUDED.lease_expires_at,
			metadata = EXCLUDED.metadata`,
		hb.WorkerID, hb.WorkerType, string(hb.Status), hb.CurrentRunID,
		hb.CurrentTask, hb.LeaseExpiresAt, metadata,
	)
	return eris.Wrapf(err, "store: upsert heartbeat for %s", hb.WorkerID)
}

func (s *PostgresStore) ListHeartbeats(ctx context.Context) ([]model.WorkerHeartbeat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+heartbeatColumns+` FROM worker_heartbeats ORDER BY worker_id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list heartbeats")
	}
	defer rows.Close()

	var out []model.WorkerHeartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan heartbeat")
		}
		out = append(out, *hb)
	}
	return out, eris.Wrap(rows.Err(), "store: list heartbeats")
}

// DeadWorkers returns workers whose last beat is older than the threshold.
// Gracefully stopped workers are excluded; crashed ones show up here until
// their rows are garbage-collected.
func (s *PostgresStore) DeadWorkers(ctx context.Context, threshold time.Duration) ([]model.WorkerHeartbeat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+heartbeatColumns+` FROM worker_heartbeats
		 WHERE status <> 'stopped'
		   AND last_heartbeat_at < now() - make_interval(secs => $1)
		 ORDER BY last_heartbeat_at`,
		int(threshold.Seconds()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: dead workers")
	}
	defer rows.Close()

	var out []model.WorkerHeartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan dead worker")
		}
		out = append(out, *hb)
	}
	return out, eris.Wrap(rows.Err(), "store: dead workers")
}

// ReleaseWorkerLeases force-releases every lease held by the given worker,
// on runs and candidates both. Returns the number of units freed.
func (s *PostgresStore) ReleaseWorkerLeases(ctx context.Context, workerID string) (int64, error) {
	var freed int64

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET locked_by = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE locked_by = $1`,
		workerID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "store: release run leases for %s", workerID)
	}
	freed += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`UPDATE company_candidates SET locked_by = NULL, lease_expires_at = NULL
		 WHERE locked_by = $1`,
		workerID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "store: release candidate leases for %s", workerID)
	}
	freed += tag.RowsAffected()

	return freed, nil
}

// DeleteStaleHeartbeats garbage-collects rows from workers long gone.
func (s *PostgresStore) DeleteStaleHeartbeats(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM worker_heartbeats
		 WHERE last_heartbeat_at < now() - make_interval(secs => $1)`,
		int(olderThan.Seconds()),
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete stale heartbeats")
	}
	return tag.RowsAffected(), nil
}
