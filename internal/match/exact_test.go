package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
)

func TestMatchExactCrossRetailer(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shufersal", Name: "קולה זירו", Barcode: "7290000000001"},
		{ID: 2, RetailerID: "rami-levy", Name: "Cola Zero 330ml", Barcode: "7290000000001"},
		{ID: 3, RetailerID: "victory", Name: "coca cola zero", Barcode: "7290000000001"},
	}
	claims := NewClaimSet()

	edges := MatchExact(listings, claims)
	require.Len(t, edges, 2)

	// Star edges from the lowest id, confidence exactly 1.0.
	for _, e := range edges {
		assert.Equal(t, int64(1), e.Left)
		assert.Equal(t, model.MethodBarcode, e.Method)
		assert.Equal(t, 1.0, e.Confidence)
	}
	assert.True(t, claims.Claimed(1))
	assert.True(t, claims.Claimed(2))
	assert.True(t, claims.Claimed(3))
}

func TestMatchExactSingleRetailerGroup(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shufersal", Name: "cola", Barcode: "7290000000001"},
		{ID: 2, RetailerID: "shufersal", Name: "cola multipack", Barcode: "7290000000001"},
	}
	claims := NewClaimSet()

	edges := MatchExact(listings, claims)
	assert.Empty(t, edges)
	assert.False(t, claims.Claimed(1))
	assert.False(t, claims.Claimed(2))
}

func TestMatchExactMalformedBarcodeFallsThrough(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "cola", Barcode: "12ab"},
		{ID: 2, RetailerID: "b", Name: "cola", Barcode: "12ab"},
		{ID: 3, RetailerID: "a", Name: "milk", Barcode: "729000"},
		{ID: 4, RetailerID: "b", Name: "milk", Barcode: "729000"},
	}
	claims := NewClaimSet()

	// Non-digit and wrong-length barcodes never match at tier 1.
	edges := MatchExact(listings, claims)
	assert.Empty(t, edges)
	for id := int64(1); id <= 4; id++ {
		assert.False(t, claims.Claimed(id))
	}
}
