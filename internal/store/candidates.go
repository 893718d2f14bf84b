package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/db"
	"github.com/sells-group/campaign-cli/internal/model"
)

const candidateColumns = `id, run_id, domain, name, city, state, status, discovery_source,
	quality_score, research, researched_at, contact_attempts, locked_by, lease_expires_at, created_at`

func scanCandidate(row pgx.Row) (*model.CompanyCandidate, error) {
	var c model.CompanyCandidate
	err := row.Scan(&c.ID, &c.RunID, &c.Domain, &c.Name, &c.City, &c.State,
		&c.Status, &c.DiscoverySource, &c.QualityScore, &c.Research,
		&c.ResearchedAt, &c.ContactAttempts, &c.LockedBy, &c.LeaseExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCompanies idempotently inserts discovered companies. Duplicate
// (run_id, domain) pairs are dropped, whether within the batch or against
// rows already present, so retried writes and overlapping regions collapse
// to one row. Returns the number of rows actually inserted.
func (s *PostgresStore) UpsertCompanies(ctx context.Context, candidates []model.CompanyCandidate) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		domain := model.NormalizeDomain(c.Domain)
		if domain == "" || seen[c.RunID+"|"+domain] {
			continue
		}
		seen[c.RunID+"|"+domain] = true

		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := c.Status
		if status == "" {
			status = model.CandidateValidated
		}
		rows = append(rows, []any{
			id, c.RunID, domain, c.Name, c.City, c.State,
			string(status), c.DiscoverySource, c.QualityScore,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "company_candidates",
		Columns: []string{
			"id", "run_id", "domain", "name", "city", "state",
			"status", "discovery_source", "quality_score",
		},
		ConflictKeys: []string{"run_id", "domain"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: upsert companies")
	}
	return n, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, runID string, limit int) ([]model.CompanyCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM company_candidates
		 WHERE run_id = $1
		 ORDER BY quality_score DESC, created_at
		 LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies")
	}
	defer rows.Close()

	var out []model.CompanyCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "store: list companies")
}

// ClaimResearchCandidate atomically claims one unresearched validated
// candidate belonging to an active research-stage run.
func (s *PostgresStore) ClaimResearchCandidate(ctx context.Context, workerID string, leaseSeconds int) (*model.CompanyCandidate, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE company_candidates c
		 SET locked_by = $1, lease_expires_at = now() + make_interval(secs => $2)
		 WHERE c.id = (
		 	SELECT cc.id FROM company_candidates cc
		 	JOIN runs r ON r.id = cc.run_id
		 	WHERE r.status = 'active' AND r.stage = 'research'
		 	  AND cc.status = 'validated' AND cc.researched_at IS NULL
		 	  AND (cc.locked_by IS NULL OR cc.lease_expires_at < now())
		 	ORDER BY cc.created_at
		 	LIMIT 1
		 	FOR UPDATE OF cc SKIP LOCKED
		 )
		 RETURNING `+candidateColumns,
		workerID, leaseSeconds,
	)
	c, err := scanCandidate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim research candidate")
	}
	return c, nil
}

// ClaimContactCandidate atomically claims one promoted company that is
// still short of its run's contact minimum and has claim attempts left.
func (s *PostgresStore) ClaimContactCandidate(ctx context.Context, workerID string, leaseSeconds, maxAttempts int) (*model.CompanyCandidate, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE company_candidates c
		 SET locked_by = $1, lease_expires_at = now() + make_interval(secs => $2)
		 WHERE c.id = (
		 	SELECT cc.id FROM company_candidates cc
		 	JOIN runs r ON r.id = cc.run_id
		 	WHERE r.status = 'active' AND r.stage = 'contact_discovery'
		 	  AND cc.status = 'promoted'
		 	  AND cc.contact_attempts < $3
		 	  AND (cc.locked_by IS NULL OR cc.lease_expires_at < now())
		 	  AND (SELECT count(*) FROM contact_candidates t WHERE t.company_id = cc.id) < r.contacts_min
		 	ORDER BY cc.created_at
		 	LIMIT 1
		 	FOR UPDATE OF cc SKIP LOCKED
		 )
		 RETURNING `+candidateColumns,
		workerID, leaseSeconds, maxAttempts,
	)
	c, err := scanCandidate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: claim contact candidate")
	}
	return c, nil
}

// ReleaseCandidate clears a candidate's lease unconditionally; idempotent.
func (s *PostgresStore) ReleaseCandidate(ctx context.Context, candidateID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE company_candidates SET locked_by = NULL, lease_expires_at = NULL WHERE id = $1`,
		candidateID,
	)
	return eris.Wrapf(err, "store: release candidate %s", candidateID)
}

// AttachResearch records a research result. The write re-checks that the
// candidate is still unresearched and its run still active, so a zombie
// worker whose lease was reclaimed cannot overwrite a newer result.
// Returns false when the write was skipped as stale.
func (s *PostgresStore) AttachResearch(ctx context.Context, candidateID string, research []byte, qualityScore float64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE company_candidates c
		 SET research = $2, quality_score = $3, researched_at = now()
		 WHERE c.id = $1 AND c.researched_at IS NULL
		   AND EXISTS (SELECT 1 FROM runs r WHERE r.id = c.run_id AND r.status = 'active')`,
		candidateID, research, qualityScore,
	)
	if err != nil {
		return false, eris.Wrapf(err, "store: attach research to %s", candidateID)
	}
	return tag.RowsAffected() > 0, nil
}

// PromoteTopCandidates promotes the n best-scored researched candidates of
// a run. Already-promoted rows are left untouched, so the call converges
// when repeated.
func (s *PostgresStore) PromoteTopCandidates(ctx context.Context, runID string, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE company_candidates SET status = 'promoted'
		 WHERE id IN (
		 	SELECT id FROM company_candidates
		 	WHERE run_id = $1 AND researched_at IS NOT NULL AND status IN ('validated', 'promoted')
		 	ORDER BY quality_score DESC, created_at
		 	LIMIT $2
		 ) AND status <> 'promoted'`,
		runID, n,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "store: promote candidates for run %s", runID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) IncrementContactAttempts(ctx context.Context, candidateID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE company_candidates SET contact_attempts = contact_attempts + 1 WHERE id = $1`,
		candidateID,
	)
	return eris.Wrapf(err, "store: increment contact attempts for %s", candidateID)
}

// UpsertContacts idempotently inserts discovered contacts keyed on
// (run_id, identity_key). Returns the number of fresh rows.
func (s *PostgresStore) UpsertContacts(ctx context.Context, contacts []model.ContactCandidate) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(contacts))
	seen := make(map[string]bool, len(contacts))
	for _, c := range contacts {
		key := c.IdentityKey
		if key == "" {
			key = model.ContactIdentityKey(c.Email, c.LinkedInURL, c.FullName, c.CompanyID)
		}
		if seen[c.RunID+"|"+key] {
			continue
		}
		seen[c.RunID+"|"+key] = true

		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := c.Status
		if status == "" {
			status = model.ContactDiscovered
		}
		rows = append(rows, []any{
			id, c.RunID, c.CompanyID, c.FullName, c.Title,
			c.Email, c.LinkedInURL, string(status), key,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "contact_candidates",
		Columns: []string{
			"id", "run_id", "company_id", "full_name", "title",
			"email", "linkedin_url", "status", "identity_key",
		},
		ConflictKeys: []string{"run_id", "identity_key"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: upsert contacts")
	}
	return n, nil
}

func (s *PostgresStore) CountContactsForCompany(ctx context.Context, companyID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM contact_candidates WHERE company_id = $1`, companyID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "store: count contacts for %s", companyID)
	}
	return n, nil
}

// GetRunCounts gathers the aggregates stage advancement depends on in one
// round trip. PromotedContacts counts only contacts attached to promoted
// companies so attrition among unpromoted candidates cannot block the
// contact gap; ContactEligible counts promoted companies that can still be
// claimed for contact discovery.
func (s *PostgresStore) GetRunCounts(ctx context.Context, runID string, maxContactAttempts int) (*RunCounts, error) {
	var counts RunCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
			count(*),
			count(*) FILTER (WHERE researched_at IS NULL AND status = 'validated'),
			count(*) FILTER (WHERE status = 'promoted'),
			COALESCE(sum((SELECT count(*) FROM contact_candidates t WHERE t.company_id = c.id))
				FILTER (WHERE status = 'promoted'), 0),
			count(*) FILTER (WHERE status = 'promoted'
				AND contact_attempts < $2
				AND (SELECT count(*) FROM contact_candidates t WHERE t.company_id = c.id)
					< (SELECT contacts_min FROM runs r WHERE r.id = c.run_id))
		 FROM company_candidates c
		 WHERE run_id = $1`,
		runID, maxContactAttempts,
	).Scan(&counts.Companies, &counts.Unresearched, &counts.Promoted,
		&counts.PromotedContacts, &counts.ContactEligible)
	if err != nil {
		return nil, eris.Wrapf(err, "store: counts for run %s", runID)
	}
	return &counts, nil
}
