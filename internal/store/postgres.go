package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/db"
	"github.com/sells-group/campaign-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse postgres config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'active',
	stage            TEXT NOT NULL DEFAULT 'discovery',
	criteria         JSONB NOT NULL DEFAULT '{}'::jsonb,
	target_quantity  INTEGER NOT NULL DEFAULT 0,
	contacts_min     INTEGER NOT NULL DEFAULT 2,
	contacts_max     INTEGER NOT NULL DEFAULT 3,
	notes            TEXT NOT NULL DEFAULT '',
	close_attempts   INTEGER NOT NULL DEFAULT 0,
	locked_by        TEXT,
	lease_expires_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status_stage ON runs(status, stage);

CREATE TABLE IF NOT EXISTS company_candidates (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	domain           TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'validated',
	discovery_source TEXT NOT NULL DEFAULT '',
	quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	research         JSONB,
	researched_at    TIMESTAMPTZ,
	contact_attempts INTEGER NOT NULL DEFAULT 0,
	locked_by        TEXT,
	lease_expires_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_company_candidates_run ON company_candidates(run_id, status);
CREATE INDEX IF NOT EXISTS idx_company_candidates_lease ON company_candidates(locked_by) WHERE locked_by IS NOT NULL;

CREATE TABLE IF NOT EXISTS contact_candidates (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	company_id   TEXT NOT NULL REFERENCES company_candidates(id),
	full_name    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'discovered',
	identity_key TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, identity_key)
);

CREATE INDEX IF NOT EXISTS idx_contact_candidates_company ON contact_candidates(company_id);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
	worker_id         TEXT PRIMARY KEY,
	worker_type       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'idle',
	current_run_id    TEXT NOT NULL DEFAULT '',
	current_task      TEXT NOT NULL DEFAULT '',
	last_heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	lease_expires_at  TIMESTAMPTZ,
	metadata          JSONB NOT NULL DEFAULT '{}'::jsonb,
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_last ON worker_heartbeats(last_heartbeat_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "store: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "store: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const runColumns = `id, status, stage, criteria, target_quantity, contacts_min, contacts_max,
	notes, close_attempts, locked_by, lease_expires_at, created_at, updated_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var criteria []byte
	err := row.Scan(&r.ID, &r.Status, &r.Stage, &criteria, &r.TargetQuantity,
		&r.ContactsMin, &r.ContactsMax, &r.Notes, &r.CloseAttempts,
		&r.LockedBy, &r.LeaseExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Criteria, err = model.ParseCriteria(criteria); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, in NewRun) (*model.Run, error) {
	criteria, err := in.Criteria.JSON()
	if err != nil {
		return nil, err
	}

	contactsMin := in.ContactsMin
	if contactsMin <= 0 {
		contactsMin = 2
	}
	contactsMax := in.ContactsMax
	if contactsMax < contactsMin {
		contactsMax = contactsMin + 1
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO runs (id, status, stage, criteria, target_quantity, contacts_min, contacts_max)
		 VALUES ($1, 'active', 'discovery', $2, $3, $4, $5)
		 RETURNING `+runColumns,
		uuid.New().String(), criteria, in.TargetQuantity, contactsMin, contactsMax,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: create run")
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.Stage != "" {
		args = append(args, filter.Stage)
		query += ` AND stage = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "store: list runs")
}

// AdvanceStage moves a run forward with a compare-and-set on the current
// stage, so redundant advancement calls from concurrent workers converge.
// Returns false when the run was not in the expected stage (already
// advanced, or paused by a non-active status).
func (s *PostgresStore) AdvanceStage(ctx context.Context, runID string, from, to model.RunStage) (bool, error) {
	if !model.StageAtOrAfter(from, to) || from == to {
		return false, eris.Errorf("store: stage may not regress from %s to %s", from, to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stage = $3, updated_at = now()
		 WHERE id = $1 AND stage = $2 AND status = 'active'`,
		runID, string(from), string(to),
	)
	if err != nil {
		return false, eris.Wrapf(err, "store: advance run %s to %s", runID, to)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`,
		runID, string(status),
	)
	return eris.Wrapf(err, "store: set run %s status %s", runID, status)
}

func (s *PostgresStore) AppendRunNotes(ctx context.Context, runID, note string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		     updated_at = now()
		 WHERE id = $1`,
		runID, note,
	)
	return eris.Wrapf(err, "store: append notes to run %s", runID)
}

func (s *PostgresStore) IncrementCloseAttempts(ctx context.Context, runID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE runs SET close_attempts = close_attempts + 1, updated_at = now()
		 WHERE id = $1 RETURNING close_attempts`,
		runID,
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrapf(err, "store: increment close attempts for run %s", runID)
	}
	return attempts, nil
}

// ResumeRun puts a paused run back in play after a human decision:
// status returns to active, the close-attempt counter restarts, and the
// criteria may be replaced (broadened scope, relaxed constraint).
func (s *PostgresStore) ResumeRun(ctx context.Context, runID string, criteria model.Criteria) error {
	if criteria == nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE runs SET status = 'active', close_attempts = 0, updated_at = now() WHERE id = $1`,
			runID,
		)
		return eris.Wrapf(err, "store: resume run %s", runID)
	}

	raw, err := criteria.JSON()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET status = 'active', close_attempts = 0, criteria = $2, updated_at = now()
		 WHERE id = $1`,
		runID, raw,
	)
	return eris.Wrapf(err, "store: resume run %s", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET stage = 'done', status = 'completed', updated_at = now() WHERE id = $1`,
		runID,
	)
	return eris.Wrapf(err, "store: complete run %s", runID)
}

// ClaimDiscoveryRun atomically claims one active discovery-stage run whose
// lease is free or expired. A plain SELECT-then-UPDATE would race between
// workers; the claim must stay a single conditional statement.
func (s *PostgresStore) ClaimDiscoveryRun(ctx context.Context, workerID string, leaseSeconds int) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE runs
		 SET locked_by = $1, lease_expires_at = now() + make_interval(secs => $2), updated_at = now()
		 WHERE id = (
		 	SELECT id FROM runs
		 	WHERE status = 'active' AND stage = 'discovery'
		 	  AND (locked_by IS NULL OR lease_expires_at < now())
		 	ORDER BY created_at
		 	LIMIT 1
		 	FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+runColumns,
		workerID, leaseSeconds,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim discovery run")
	}
	return run, nil
}

// ReleaseRun clears a run's lease unconditionally; safe to call twice.
func (s *PostgresStore) ReleaseRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET locked_by = NULL, lease_expires_at = NULL, updated_at = now() WHERE id = $1`,
		runID,
	)
	return eris.Wrapf(err, "store: release run %s", runID)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
