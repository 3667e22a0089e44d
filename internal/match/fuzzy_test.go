package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricematch-cli/internal/model"
)

func sized(v string) map[string]string {
	return map[string]string{"size_value": v}
}

func TestScorePairSameProduct(t *testing.T) {
	a := model.ProductListing{ID: 1, RetailerID: "shufersal", Name: "Nivea Body Lotion 250ml", Brand: "Nivea", Attributes: sized("250")}
	b := model.ProductListing{ID: 2, RetailerID: "rami-levy", Name: "lotion body NIVEA 250 ml", Brand: "nivea", Attributes: sized("250")}

	s := ScorePair(&a, &b, 0.20)
	assert.Equal(t, 1.0, s.Brand)
	assert.Equal(t, 1.0, s.Name)
	assert.Equal(t, 1.0, s.Size)
	assert.Equal(t, 1.0, s.Total)
}

func TestScorePairSizeMismatchRejects(t *testing.T) {
	a := model.ProductListing{ID: 1, RetailerID: "a", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("250")}
	b := model.ProductListing{ID: 2, RetailerID: "b", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("750")}

	s := ScorePair(&a, &b, 0.20)
	assert.Equal(t, 0.0, s.Size)
	// 0.4*1 + 0.4*1 + 0.2*0 = 0.8, below the 0.85 threshold.
	assert.InDelta(t, 0.8, s.Total, 1e-9)
}

func TestScorePairMissingFieldsNeutral(t *testing.T) {
	a := model.ProductListing{ID: 1, RetailerID: "a", Name: "body lotion"}
	b := model.ProductListing{ID: 2, RetailerID: "b", Name: "body lotion", Brand: "Nivea", Attributes: sized("250")}

	s := ScorePair(&a, &b, 0.20)
	assert.Equal(t, 0.5, s.Brand)
	assert.Equal(t, 0.5, s.Size)
}

func TestWithinRelative(t *testing.T) {
	assert.True(t, withinRelative(500, 510, 0.20))
	assert.True(t, withinRelative(400, 500, 0.20))  // diff/larger = 0.20, inclusive
	assert.False(t, withinRelative(250, 750, 0.20)) // ~0.67
	assert.True(t, withinRelative(0, 0, 0.20))
}

func TestFuzzyMatcherAcceptsAtThreshold(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shufersal", Name: "Nivea Body Lotion 250ml", Brand: "Nivea", Attributes: sized("250")},
		{ID: 2, RetailerID: "rami-levy", Name: "lotion body nivea", Brand: "NIVEA", Attributes: sized("250")},
		{ID: 3, RetailerID: "victory", Name: "dark chocolate bar", Brand: "Elite"},
	}
	idx := BuildBlockingIndex(listings)
	pairs := idx.CandidatePairs(300)
	claims := NewClaimSet()

	f := &FuzzyMatcher{Threshold: 0.85, SizeTolerance: 0.20}
	edges := f.Match(listings, idx, pairs, claims)

	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].Left)
	assert.Equal(t, int64(2), edges[0].Right)
	assert.Equal(t, model.MethodFuzzy, edges[0].Method)
	assert.GreaterOrEqual(t, edges[0].Confidence, 0.85)
	assert.True(t, claims.Claimed(1))
	assert.True(t, claims.Claimed(2))
	assert.False(t, claims.Claimed(3))
}

func TestFuzzyMatcherAcceptsScoreEqualToThreshold(t *testing.T) {
	// Perfect brand and name with disagreeing sizes computes to exactly
	// 0.80; with the threshold set there, >= semantics accept the pair
	// without an epsilon.
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("250")},
		{ID: 2, RetailerID: "b", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("750")},
	}
	idx := BuildBlockingIndex(listings)
	claims := NewClaimSet()

	f := &FuzzyMatcher{Threshold: 0.80, SizeTolerance: 0.20}
	edges := f.Match(listings, idx, idx.CandidatePairs(300), claims)

	require.Len(t, edges, 1)
	assert.InDelta(t, 0.80, edges[0].Confidence, 1e-12)
	assert.True(t, claims.Claimed(1))
	assert.True(t, claims.Claimed(2))
}

func TestFuzzyMatcherStrictThreshold(t *testing.T) {
	// Identical names and brands but disagreeing sizes: total lands at 0.80,
	// strictly below 0.85, so the pair is rejected.
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("250")},
		{ID: 2, RetailerID: "b", Name: "Nivea Body Lotion", Brand: "Nivea", Attributes: sized("750")},
	}
	idx := BuildBlockingIndex(listings)
	claims := NewClaimSet()

	f := &FuzzyMatcher{Threshold: 0.85, SizeTolerance: 0.20}
	edges := f.Match(listings, idx, idx.CandidatePairs(300), claims)
	assert.Empty(t, edges)
}

func TestFuzzyMatcherSameRetailerNeverPairs(t *testing.T) {
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "shufersal", Name: "Nivea Body Lotion", Brand: "Nivea"},
		{ID: 2, RetailerID: "shufersal", Name: "Nivea Body Lotion", Brand: "Nivea"},
	}
	idx := BuildBlockingIndex(listings)
	claims := NewClaimSet()

	f := &FuzzyMatcher{Threshold: 0.85, SizeTolerance: 0.20}
	edges := f.Match(listings, idx, idx.CandidatePairs(300), claims)
	assert.Empty(t, edges)
}

func TestFuzzyMatcherTieBreaksToLowerID(t *testing.T) {
	// Listings 2 and 3 are equally perfect counterparts for 1; the lower
	// candidate id wins and the loser stays unclaimed.
	listings := []model.ProductListing{
		{ID: 1, RetailerID: "a", Name: "Nivea Body Lotion", Brand: "Nivea"},
		{ID: 2, RetailerID: "b", Name: "Nivea Body Lotion", Brand: "Nivea"},
		{ID: 3, RetailerID: "c", Name: "Nivea Body Lotion", Brand: "Nivea"},
	}
	idx := BuildBlockingIndex(listings)
	claims := NewClaimSet()

	f := &FuzzyMatcher{Threshold: 0.85, SizeTolerance: 0.20}
	edges := f.Match(listings, idx, idx.CandidatePairs(300), claims)

	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].Left)
	assert.Equal(t, int64(2), edges[0].Right)
	assert.False(t, claims.Claimed(3))
}
