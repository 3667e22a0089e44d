package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
)

func TestBuildClustersPartition(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "cola", Barcode: "7290000000001", Price: 5.90},
		{ID: 2, RetailerID: "b", Name: "cola zero", Barcode: "7290000000001", Price: 6.50},
		{ID: 3, RetailerID: "a", Name: "body lotion", Brand: "Nivea", Price: 19.90},
		{ID: 4, RetailerID: "b", Name: "lotion body", Brand: "Nivea", Price: 22.00},
		{ID: 5, RetailerID: "c", Name: "something else", Price: 9.90},
	}
	edges := []model.Edge{
		{Left: 1, Right: 2, Method: model.MethodBarcode, Confidence: 1.0},
		{Left: 3, Right: 4, Method: model.MethodFuzzy, Confidence: 0.92},
	}

	result := BuildClusters(listings, edges)

	// Every listing lands in exactly one cluster.
	require.Len(t, result.Matches, 5)
	require.Len(t, result.Canonicals, 3)
	assert.Zero(t, result.Conflicts)

	byListing := make(map[int64]model.ListingMatch)
	for _, m := range result.Matches {
		byListing[m.ListingID] = m
	}
	assert.Equal(t, byListing[1].CanonicalID, byListing[2].CanonicalID)
	assert.Equal(t, byListing[3].CanonicalID, byListing[4].CanonicalID)
	assert.NotEqual(t, byListing[1].CanonicalID, byListing[3].CanonicalID)

	// Barcode-bearing cluster gets the barcode-derived id.
	assert.Equal(t, "canon_7290000000001", byListing[1].CanonicalID)
	assert.Equal(t, model.MethodBarcode, byListing[1].Method)
	assert.Equal(t, 1.0, byListing[1].Confidence)

	assert.Equal(t, model.MethodFuzzy, byListing[3].Method)
	assert.Equal(t, 0.92, byListing[3].Confidence)

	// The unmatched listing becomes a singleton with method "new".
	assert.Equal(t, model.MethodNew, byListing[5].Method)
	assert.Equal(t, 1.0, byListing[5].Confidence)
}

func TestBuildClustersSharedBarcodeSameRetailer(t *testing.T) {
	// Duplicate rows from one retailer share a barcode. Tier 1 has no
	// cross-retailer counterpart so it emits no edge, but the shared barcode
	// still co-clusters the rows into a single canonical product.
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shufersal", Name: "cola zero", Barcode: "7290000000001", Price: 5.90},
		{ID: 2, RetailerID: "shufersal", Name: "cola zero 330ml", Barcode: "7290000000001", Price: 6.10},
	}
	claims := NewClaimSet()
	edges := MatchExact(listings, claims)
	assert.Empty(t, edges)

	result := BuildClusters(listings, edges)

	require.Len(t, result.Canonicals, 1)
	assert.Equal(t, "canon_7290000000001", result.Canonicals[0].CanonicalID)
	assert.Equal(t, 2, result.Canonicals[0].ListingCount)

	require.Len(t, result.Matches, 2)
	for _, m := range result.Matches {
		assert.Equal(t, "canon_7290000000001", m.CanonicalID)
		assert.Equal(t, model.MethodNew, m.Method)
	}
}

func TestBuildClustersBarcodeConflictSkipsUnion(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "cola", Barcode: "7290000000001"},
		{ID: 2, RetailerID: "b", Name: "cola", Barcode: "7290000000002"},
	}
	// A lower-tier edge tries to merge two clusters with disagreeing
	// barcodes; the union is rejected, not the run.
	edges := []model.Edge{
		{Left: 1, Right: 2, Method: model.MethodFuzzy, Confidence: 0.95},
	}

	result := BuildClusters(listings, edges)

	assert.Equal(t, 1, result.Conflicts)
	require.Len(t, result.Canonicals, 2)
	assert.Equal(t, "canon_7290000000001", result.Canonicals[0].CanonicalID)
	assert.Equal(t, "canon_7290000000002", result.Canonicals[1].CanonicalID)
}

func TestBuildClustersHigherTierEvidenceWins(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "cola", Barcode: "7290000000001"},
		{ID: 2, RetailerID: "b", Name: "cola", Barcode: "7290000000001"},
	}
	// Input order deliberately puts the lower-tier edge first; processing
	// order is by tier priority, so the barcode evidence wins.
	edges := []model.Edge{
		{Left: 1, Right: 2, Method: model.MethodLLM, Confidence: 0.85},
		{Left: 1, Right: 2, Method: model.MethodBarcode, Confidence: 1.0},
	}

	result := BuildClusters(listings, edges)

	require.Len(t, result.Canonicals, 1)
	for _, m := range result.Matches {
		assert.Equal(t, model.MethodBarcode, m.Method)
		assert.Equal(t, 1.0, m.Confidence)
	}
}

func TestBuildClustersDerivesAggregates(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "gov-feed", SourceType: model.SourceGovernment, Name: "קולה זירו", Barcode: "7290000000001", Price: 5.50},
		{ID: 2, RetailerID: "shufersal", SourceType: model.SourceCommercial, Name: "Cola Zero 330ml", Brand: "Coca-Cola", Barcode: "7290000000001", Price: 6.90, ImageURL: "https://img.example/cola.jpg"},
		{ID: 3, RetailerID: "rami-levy", SourceType: model.SourceCommercial, Name: "cola zero", Barcode: "7290000000001", Price: 0},
	}
	edges := []model.Edge{
		{Left: 1, Right: 2, Method: model.MethodBarcode, Confidence: 1.0},
		{Left: 1, Right: 3, Method: model.MethodBarcode, Confidence: 1.0},
	}

	result := BuildClusters(listings, edges)
	require.Len(t, result.Canonicals, 1)
	cp := result.Canonicals[0]

	// Representative prefers a commercial member over the government feed.
	assert.Equal(t, "Cola Zero 330ml", cp.Name)
	assert.Equal(t, "Coca-Cola", cp.Brand)
	assert.Equal(t, "https://img.example/cola.jpg", cp.ImageURL)
	assert.Equal(t, "7290000000001", cp.PrimaryBarcode)

	// Non-positive prices are excluded from aggregates.
	assert.Equal(t, 5.50, cp.PriceMin)
	assert.Equal(t, 6.90, cp.PriceMax)
	assert.InDelta(t, 6.20, cp.PriceAvg, 1e-9)
	assert.Equal(t, 3, cp.ListingCount)
	assert.Equal(t, []string{"gov-feed", "rami-levy", "shufersal"}, cp.Retailers)
}

func TestHashedCanonicalID(t *testing.T) {
	// Stable across normalization variants of the same brand+name.
	a := HashedCanonicalID("Nivea", "Body Lotion 250ml")
	b := HashedCanonicalID("NIVEA", "body lotion 250ml")
	assert.Equal(t, a, b)
	assert.Regexp(t, `^canon_h[0-9a-f]{16}$`, a)

	assert.NotEqual(t, a, HashedCanonicalID("Nivea", "Hand Cream"))
}

func TestBuildClustersTransitiveBarcode(t *testing.T) {
	// Star edges restore transitivity through connected components: 2 and 3
	// share a cluster without a direct edge.
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "cola", Barcode: "7290000000001"},
		{ID: 2, RetailerID: "b", Name: "cola", Barcode: "7290000000001"},
		{ID: 3, RetailerID: "c", Name: "cola", Barcode: "7290000000001"},
	}
	edges := []model.Edge{
		{Left: 1, Right: 2, Method: model.MethodBarcode, Confidence: 1.0},
		{Left: 1, Right: 3, Method: model.MethodBarcode, Confidence: 1.0},
	}

	result := BuildClusters(listings, edges)
	require.Len(t, result.Canonicals, 1)
	assert.Equal(t, 3, result.Canonicals[0].ListingCount)
}
