package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CountListings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM product_listings`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.CountListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MethodCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT match_method, COUNT\(\*\)`).
		WillReturnRows(pgxmock.NewRows([]string{"match_method", "count"}).
			AddRow("barcode", 120).
			AddRow("fuzzy", 34).
			AddRow("new", 9))

	counts, err := s.MethodCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, counts[model.MethodBarcode])
	assert.Equal(t, 34, counts[model.MethodFuzzy])
	assert.Equal(t, 9, counts[model.MethodNew])
	assert.Zero(t, counts[model.MethodVector])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRun_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO match_runs`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := model.MatchRun{
		ID:         "run-1",
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
		Listings:   100,
		Canonicals: 60,
	}
	require.NoError(t, s.RecordRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	summary, err := json.Marshal(model.MatchRun{ID: "run-9", Listings: 12, Canonicals: 7})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT summary FROM match_runs`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"summary"}).AddRow(summary))

	runs, err := s.ListRuns(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].ID)
	assert.Equal(t, 7, runs[0].Canonicals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailedBatches(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO match_dlq`).
		WithArgs("run-1", "batch-0003", pgxmock.AnyArg(), "malformed response", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	batches := []model.FailedBatch{{
		RunID:     "run-1",
		BatchID:   "batch-0003",
		Listings:  []int64{5, 9},
		Reason:    "malformed response",
		CreatedAt: time.Now().UTC(),
	}}
	require.NoError(t, s.RecordFailedBatches(context.Background(), batches))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DLQDepth(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM match_dlq`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.DLQDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
