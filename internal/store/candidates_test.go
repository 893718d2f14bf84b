package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
)

func TestUpsertCompaniesDedupesBatch(t *testing.T) {
	st, mock := newMockStore(t)

	// Three inputs, but acme.com appears twice (once behind https://www.)
	// and one has no usable domain: only two rows reach the copy.
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_company_candidates"}, []string{
		"id", "run_id", "domain", "name", "city", "state",
		"status", "discovery_source", "quality_score",
	}).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "company_candidates"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := st.UpsertCompanies(context.Background(), []model.CompanyCandidate{
		{RunID: "run-1", Domain: "acme.com", Name: "Acme"},
		{RunID: "run-1", Domain: "https://www.acme.com/about", Name: "Acme Inc"},
		{RunID: "run-1", Domain: "not a domain", Name: "Mystery Co"},
		{RunID: "run-1", Domain: "globex.com", Name: "Globex"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCompaniesEmptyBatch(t *testing.T) {
	st, mock := newMockStore(t)

	n, err := st.UpsertCompanies(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	// All-invalid batches also skip the round trip.
	n, err = st.UpsertCompanies(context.Background(), []model.CompanyCandidate{
		{RunID: "run-1", Domain: "localhost"},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertContactsDerivesIdentityKeys(t *testing.T) {
	st, mock := newMockStore(t)

	// Same person twice under different casing collapses to one row.
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_contact_candidates"}, []string{
		"id", "run_id", "company_id", "full_name", "title",
		"email", "linkedin_url", "status", "identity_key",
	}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "contact_candidates"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := st.UpsertContacts(context.Background(), []model.ContactCandidate{
		{RunID: "run-1", CompanyID: "c1", FullName: "Jane Roe", Email: "Jane@Acme.com"},
		{RunID: "run-1", CompanyID: "c1", FullName: "Jane Roe", Email: "jane@acme.com"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
