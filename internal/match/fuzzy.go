package match

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// Tier-2 score weights: weighted combination of brand similarity, token-set
// name similarity, and size consistency.
const (
	weightBrand = 0.4
	weightName  = 0.4
	weightSize  = 0.2
)

// FuzzyScore is the decomposed tier-2 score for one candidate pair.
type FuzzyScore struct {
	Total float64
	Brand float64
	Name  float64
	Size  float64
}

// ScorePair computes the tier-2 weighted score for two listings. A missing
// brand or size on either side is neutral (0.5 component), never a penalty.
func ScorePair(a, b *model.ProductListing, sizeTolerance float64) FuzzyScore {
	s := FuzzyScore{
		Brand: brandComponent(a.Brand, b.Brand),
		Name:  TokenSetRatio(StripQuantities(NormalizeName(a.Name)), StripQuantities(NormalizeName(b.Name))),
		Size:  sizeComponent(a.Size(), b.Size(), sizeTolerance),
	}
	s.Total = weightBrand*s.Brand + weightName*s.Name + weightSize*s.Size
	return s
}

func brandComponent(a, b string) float64 {
	na, nb := NormalizeBrand(a), NormalizeBrand(b)
	if na == "" || nb == "" {
		return 0.5
	}
	return Ratio(na, nb)
}

// sizeComponent scores size consistency: 1.0 when both sizes are known and
// within the tolerance (relative difference), 0.5 when either side lacks a
// parsed size (unknown is neutral), 0 when both are known and disagree.
func sizeComponent(a, b model.SizeValue, tolerance float64) float64 {
	if !a.OK || !b.OK {
		return 0.5
	}
	if withinRelative(a.Value, b.Value, tolerance) {
		return 1.0
	}
	return 0.0
}

func withinRelative(a, b, tolerance float64) bool {
	larger := math.Max(a, b)
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= tolerance
}

// FuzzyMatcher is tier 2: approximate brand+name matching over the blocked
// candidate space.
type FuzzyMatcher struct {
	Threshold     float64 // acceptance threshold, strict >= semantics
	SizeTolerance float64
}

// Match scores each unclaimed listing against its blocked candidates and
// greedily accepts the highest-scoring eligible counterpart from a
// different retailer. Ties break toward the lowest counterpart listing id.
// Both sides of an accepted pair are claimed, so matching is pairwise and a
// listing joins at most one tier-2 pair.
func (f *FuzzyMatcher) Match(listings []model.ProductListing, idx *BlockingIndex, pairs []CandidatePair, claims ClaimSet) []model.Edge {
	log := zap.L().With(zap.String("component", "fuzzy_matcher"))

	byID := make(map[int64]*model.ProductListing, len(listings))
	order := make([]int64, 0, len(listings))
	for i := range listings {
		byID[listings[i].ID] = &listings[i]
		order = append(order, listings[i].ID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	candidates := candidateLists(byID, idx, pairs)

	var edges []model.Edge
	for _, id := range order {
		if claims.Claimed(id) {
			continue
		}
		l := byID[id]

		bestID := int64(-1)
		var best FuzzyScore
		for _, cid := range candidates[id] {
			if cid == id || claims.Claimed(cid) {
				continue
			}
			c := byID[cid]
			if c == nil || c.RetailerID == l.RetailerID {
				continue
			}
			s := ScorePair(l, c, f.SizeTolerance)
			if s.Total < f.Threshold {
				continue
			}
			// Greedy best match; equal scores break toward the lower id.
			if bestID == -1 || s.Total > best.Total || (s.Total == best.Total && cid < bestID) {
				bestID, best = cid, s
			}
		}
		if bestID == -1 {
			continue
		}

		left, right := id, bestID
		if right < left {
			left, right = right, left
		}
		edges = append(edges, model.Edge{
			Left:       left,
			Right:      right,
			Method:     model.MethodFuzzy,
			Confidence: best.Total,
			Details:    fmt.Sprintf("brand=%.3f name=%.3f size=%.2f", best.Brand, best.Name, best.Size),
		})
		claims.Claim(id, bestID)
	}

	log.Info("fuzzy tier complete", zap.Int("edges", len(edges)))
	return edges
}

// candidateLists merges token-blocked pairs with brand-scoped groups into a
// sorted, deduplicated per-listing candidate list.
func candidateLists(byID map[int64]*model.ProductListing, idx *BlockingIndex, pairs []CandidatePair) map[int64][]int64 {
	sets := make(map[int64]map[int64]bool, len(byID))
	add := func(a, b int64) {
		if sets[a] == nil {
			sets[a] = make(map[int64]bool)
		}
		sets[a][b] = true
	}

	for _, p := range pairs {
		add(p.A, p.B)
		add(p.B, p.A)
	}
	for id, l := range byID {
		for _, cid := range idx.BrandCandidates(l.Brand) {
			if cid != id {
				add(id, cid)
			}
		}
	}

	out := make(map[int64][]int64, len(sets))
	for id, set := range sets {
		ids := make([]int64, 0, len(set))
		for cid := range set {
			ids = append(ids, cid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[id] = ids
	}
	return out
}
