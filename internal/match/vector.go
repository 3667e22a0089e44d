package match

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VectorMatcher is tier 3: embedding cosine similarity over listings not
// claimed by tiers 1-2 that carry a precomputed embedding. Embedding
// computation itself is an external collaborator.
type VectorMatcher struct {
	Threshold     float64
	SizeTolerance float64
}

type simPair struct {
	a, b int64
	sim  float64
}

// Match builds similarity groups by greedy union: starting from the
// highest-similarity unclaimed pair, a cluster grows by adding any further
// unclaimed, cross-retailer, above-threshold member. Unlike tier 2, one
// pass may produce groups larger than two. Group confidence is the mean
// pairwise similarity within the final group.
func (v *VectorMatcher) Match(listings []model.ProductListing, claims ClaimSet) []model.Edge {
	log := zap.L().With(zap.String("component", "vector_matcher"))

	var pool []*model.ProductListing
	for i := range listings {
		l := &listings[i]
		if claims.Claimed(l.ID) || !l.HasEmbedding() {
			continue
		}
		pool = append(pool, l)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	if len(pool) < 2 {
		return nil
	}

	byID := make(map[int64]*model.ProductListing, len(pool))
	for _, l := range pool {
		byID[l.ID] = l
	}

	sims := v.eligiblePairs(pool)
	if len(sims) == 0 {
		return nil
	}

	var edges []model.Edge
	for _, seed := range sims {
		if claims.Claimed(seed.a) || claims.Claimed(seed.b) {
			continue
		}

		group := []int64{seed.a, seed.b}
		claims.Claim(seed.a, seed.b)

		// Grow the group: admit any unclaimed listing above threshold with
		// every current member, cross-retailer with at least one member,
		// and size-consistent with every member whose size is known.
		grew := true
		for grew {
			grew = false
			for _, cand := range pool {
				if claims.Claimed(cand.ID) {
					continue
				}
				if v.admissible(cand, group, byID) {
					group = append(group, cand.ID)
					claims.Claim(cand.ID)
					grew = true
				}
			}
		}

		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		conf := meanPairwiseSimilarity(group, byID)
		anchor := group[0]
		for _, id := range group[1:] {
			edges = append(edges, model.Edge{
				Left:       anchor,
				Right:      id,
				Method:     model.MethodVector,
				Confidence: conf,
				Details:    fmt.Sprintf("group_size=%d mean_sim=%.4f", len(group), conf),
			})
		}
	}

	log.Info("vector tier complete", zap.Int("edges", len(edges)))
	return edges
}

// eligiblePairs returns all cross-retailer pairs above threshold that pass
// the size gate, sorted by similarity descending (ties toward lower ids)
// so greedy union always starts from the strongest remaining pair.
func (v *VectorMatcher) eligiblePairs(pool []*model.ProductListing) []simPair {
	var sims []simPair
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			a, b := pool[i], pool[j]
			if a.RetailerID == b.RetailerID {
				continue
			}
			if !v.sizeGate(a, b) {
				continue
			}
			sim := CosineSimilarity(a.Embedding, b.Embedding)
			if sim >= v.Threshold {
				sims = append(sims, simPair{a: a.ID, b: b.ID, sim: sim})
			}
		}
	}
	sort.Slice(sims, func(i, j int) bool {
		if sims[i].sim != sims[j].sim {
			return sims[i].sim > sims[j].sim
		}
		if sims[i].a != sims[j].a {
			return sims[i].a < sims[j].a
		}
		return sims[i].b < sims[j].b
	})
	return sims
}

// sizeGate is the secondary consistency check: when both sizes are known
// they must be within the tolerance. Unknown sizes pass.
func (v *VectorMatcher) sizeGate(a, b *model.ProductListing) bool {
	sa, sb := a.Size(), b.Size()
	if !sa.OK || !sb.OK {
		return true
	}
	return withinRelative(sa.Value, sb.Value, v.SizeTolerance)
}

func (v *VectorMatcher) admissible(cand *model.ProductListing, group []int64, byID map[int64]*model.ProductListing) bool {
	crossRetailer := false
	for _, id := range group {
		member := byID[id]
		if CosineSimilarity(cand.Embedding, member.Embedding) < v.Threshold {
			return false
		}
		if !v.sizeGate(cand, member) {
			return false
		}
		if member.RetailerID != cand.RetailerID {
			crossRetailer = true
		}
	}
	return crossRetailer
}

func meanPairwiseSimilarity(group []int64, byID map[int64]*model.ProductListing) float64 {
	var sum float64
	var n int
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			sum += CosineSimilarity(byID[group[i]].Embedding, byID[group[j]].Embedding)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
