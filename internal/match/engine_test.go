package match

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
	"github.com/sells-group/pricematch-cli/pkg/claude"
)

func engineListings() []model.ProductListing {
	return []model.ProductListing{
		// Tier 1: shared barcode across retailers.
		{ID: 1, RetailerID: "shufersal", Name: "Cola Zero 330ml", Barcode: "7290000000001", Price: 5.90},
		{ID: 2, RetailerID: "rami-levy", Name: "קולה זירו", Barcode: "7290000000001", Price: 6.20},
		// Tier 2: same brand+name, no barcode.
		{ID: 3, RetailerID: "shufersal", Name: "Nivea Body Lotion 250ml", Brand: "Nivea", Attributes: sized("250"), Price: 19.90},
		{ID: 4, RetailerID: "victory", Name: "lotion body nivea", Brand: "NIVEA", Attributes: sized("250"), Price: 21.50},
		// Tier 3: embeddings only.
		{ID: 5, RetailerID: "shufersal", Name: "mystery snack", Embedding: []float32{1, 0, 0}},
		{ID: 6, RetailerID: "rami-levy", Name: "חטיף", Embedding: []float32{0.99, 0.1, 0}},
		// Unmatched singleton.
		{ID: 7, RetailerID: "victory", Name: "completely unrelated item", Price: 9.90},
	}
}

func TestEngineRunAllTiers(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	result, err := engine.Run(context.Background(), engineListings())
	require.NoError(t, err)

	assert.Equal(t, 7, result.Run.Listings)
	assert.Equal(t, 4, result.Run.Canonicals)
	assert.Equal(t, 1, result.Run.BarcodePairs)
	assert.Equal(t, 1, result.Run.FuzzyPairs)
	assert.Equal(t, 1, result.Run.VectorPairs)
	assert.Equal(t, 0, result.Run.LLMPairs)
	assert.Equal(t, 1, result.Run.Unmatched)
	assert.NotEmpty(t, result.Run.ID)
	require.Len(t, result.Matches, 7)

	byListing := make(map[int64]model.ListingMatch)
	for _, m := range result.Matches {
		byListing[m.ListingID] = m
	}
	assert.Equal(t, model.MethodBarcode, byListing[1].Method)
	assert.Equal(t, model.MethodFuzzy, byListing[3].Method)
	assert.Equal(t, model.MethodVector, byListing[5].Method)
	assert.Equal(t, model.MethodNew, byListing[7].Method)
}

func TestEngineDeterministic(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	first, err := engine.Run(context.Background(), engineListings())
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), engineListings())
	require.NoError(t, err)

	require.Len(t, second.Canonicals, len(first.Canonicals))
	for i := range first.Canonicals {
		assert.Equal(t, first.Canonicals[i].CanonicalID, second.Canonicals[i].CanonicalID)
		assert.Equal(t, first.Canonicals[i].ListingCount, second.Canonicals[i].ListingCount)
	}
	for i := range first.Matches {
		assert.Equal(t, first.Matches[i].ListingID, second.Matches[i].ListingID)
		assert.Equal(t, first.Matches[i].CanonicalID, second.Matches[i].CanonicalID)
		assert.Equal(t, first.Matches[i].Method, second.Matches[i].Method)
		assert.Equal(t, first.Matches[i].Confidence, second.Matches[i].Confidence)
	}
}

func TestEngineValidation(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	ctx := context.Background()

	_, err := engine.Run(ctx, nil)
	assert.Error(t, err)

	_, err = engine.Run(ctx, []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "x"},
		{ID: 1, RetailerID: "b", Name: "y"},
	})
	assert.ErrorContains(t, err, "duplicate listing id")

	_, err = engine.Run(ctx, []model.ProductListing{{ID: -4, RetailerID: "a", Name: "x"}})
	assert.ErrorContains(t, err, "non-positive id")

	_, err = engine.Run(ctx, []model.ProductListing{{ID: 1, Name: "x"}})
	assert.ErrorContains(t, err, "no retailer")

	_, err = engine.Run(ctx, []model.ProductListing{{ID: 1, RetailerID: "a"}})
	assert.ErrorContains(t, err, "no name")
}

func TestEngineArbitrationFailuresCarryRunID(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shop", SourceType: model.SourceCommercial, Name: "item one"},
		{ID: 2, RetailerID: "gov", SourceType: model.SourceGovernment, Name: "פריט"},
	}

	fake := &fakeClassifier{err: &claude.ParseError{Err: eris.New("garbled")}}
	arbiter := NewArbiter(fake, testArbiterConfig())
	engine := NewEngine(DefaultConfig(), arbiter)

	result, err := engine.Run(context.Background(), listings)
	require.NoError(t, err)
	require.Len(t, result.FailedBatches, 1)
	assert.Equal(t, result.Run.ID, result.FailedBatches[0].RunID)
	assert.Equal(t, 1, result.Run.FailedBatches)
}
