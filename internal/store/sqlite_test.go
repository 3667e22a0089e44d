package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteListingRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	listings := []model.ProductListing{
		{
			ID: 1, RetailerID: "shufersal", SourceType: model.SourceCommercial,
			Name: "Cola Zero 330ml", Brand: "Coca-Cola", Barcode: "7290000000001",
			Price: 6.90, ImageURL: "https://img.example/cola.jpg", Category: "drinks",
			Attributes: map[string]string{"size_value": "330", "size_unit": "ml"},
			Embedding:  []float32{0.1, 0.2, 0.3},
		},
		{
			ID: 2, RetailerID: "gov-feed", SourceType: model.SourceGovernment,
			Name: "קולה זירו", Price: 5.50,
		},
	}

	n, err := s.UpsertListings(ctx, listings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	loaded, err := s.LoadListings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, listings[0].Name, loaded[0].Name)
	assert.Equal(t, listings[0].Attributes, loaded[0].Attributes)
	assert.Equal(t, listings[0].Embedding, loaded[0].Embedding)
	assert.Equal(t, model.SourceGovernment, loaded[1].SourceType)
	assert.Empty(t, loaded[1].Barcode)
	assert.False(t, loaded[1].HasEmbedding())

	count, err := s.CountListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Upserting the same id updates in place instead of duplicating.
	listings[0].Price = 7.50
	_, err = s.UpsertListings(ctx, listings[:1])
	require.NoError(t, err)
	loaded, err = s.LoadListings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 7.50, loaded[0].Price)
}

func TestSQLiteCanonicalAndMatchRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	products := []model.CanonicalProduct{
		{
			CanonicalID: "canon_7290000000001", Name: "Cola Zero 330ml", Brand: "Coca-Cola",
			PrimaryBarcode: "7290000000001", PriceMin: 5.50, PriceMax: 6.90, PriceAvg: 6.20,
			ListingCount: 2, Retailers: []string{"gov-feed", "shufersal"},
		},
		{
			CanonicalID: "canon_h00000000deadbeef", Name: "Body Lotion",
			ListingCount: 1, Retailers: []string{"victory"},
		},
	}
	_, err := s.UpsertCanonicals(ctx, products)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	matches := []model.ListingMatch{
		{ListingID: 1, CanonicalID: "canon_7290000000001", SourceType: model.SourceCommercial, Method: model.MethodBarcode, Confidence: 1.0, CreatedAt: now},
		{ListingID: 2, CanonicalID: "canon_7290000000001", SourceType: model.SourceGovernment, Method: model.MethodBarcode, Confidence: 1.0, CreatedAt: now},
		{ListingID: 3, CanonicalID: "canon_h00000000deadbeef", SourceType: model.SourceCommercial, Method: model.MethodNew, Confidence: 1.0, CreatedAt: now},
	}
	_, err = s.UpsertMatches(ctx, matches)
	require.NoError(t, err)

	listed, err := s.ListCanonicals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	// Ordered by listing count descending.
	assert.Equal(t, "canon_7290000000001", listed[0].CanonicalID)
	assert.Equal(t, []string{"gov-feed", "shufersal"}, listed[0].Retailers)
	assert.InDelta(t, 6.20, listed[0].PriceAvg, 1e-9)

	count, err := s.CountCanonicals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	counts, err := s.MethodCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.MethodBarcode])
	assert.Equal(t, 1, counts[model.MethodNew])
}

func TestSQLiteRunsAndDLQ(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	older := model.MatchRun{
		ID:        "run-old",
		StartedAt: time.Now().UTC().Add(-2 * time.Hour), FinishedAt: time.Now().UTC().Add(-2 * time.Hour),
		Listings: 10, Canonicals: 8,
	}
	newer := model.MatchRun{
		ID:        "run-new",
		StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
		Listings: 12, Canonicals: 9, FailedBatches: 1,
	}
	require.NoError(t, s.RecordRun(ctx, older))
	require.NoError(t, s.RecordRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)

	require.NoError(t, s.RecordFailedBatches(ctx, []model.FailedBatch{{
		RunID: "run-new", BatchID: "batch-0001",
		Listings: []int64{4, 5}, Reason: "malformed response",
		CreatedAt: time.Now().UTC(),
	}}))

	depth, err := s.DLQDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
