package match

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// ClusterResult is the finalized output of a matching run: disjoint
// canonical products and the listing→canonical mapping.
type ClusterResult struct {
	Canonicals []model.CanonicalProduct
	Matches    []model.ListingMatch
	// Conflicts counts unions rejected because the two components carried
	// disagreeing barcodes.
	Conflicts int
}

// BuildClusters merges tier edges into connected components, resolves
// barcode conflicts by tier priority, selects representatives, and derives
// canonical products. Every listing lands in exactly one cluster; listings
// with no surviving edge become singleton canonicals with method "new".
func BuildClusters(listings []model.ProductListing, edges []model.Edge) ClusterResult {
	log := zap.L().With(zap.String("component", "cluster_builder"))

	idxOf := make(map[int64]int, len(listings))
	for i, l := range listings {
		idxOf[l.ID] = i
	}

	// Process edges in tier-priority order (barcode > fuzzy > vector > llm)
	// so that when a union would merge components with disagreeing barcodes,
	// the earlier-established, higher-tier cluster stands.
	ordered := make([]model.Edge, len(edges))
	copy(ordered, edges)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Method.Priority() != ordered[j].Method.Priority() {
			return ordered[i].Method.Priority() > ordered[j].Method.Priority()
		}
		if ordered[i].Left != ordered[j].Left {
			return ordered[i].Left < ordered[j].Left
		}
		return ordered[i].Right < ordered[j].Right
	})

	uf := newUnionFind(len(listings))

	// Barcodes are authoritative: every listing carrying the same valid
	// barcode is co-clustered before any edge is considered. Tier 1 only
	// emits edges for cross-retailer groups, so without this pre-union two
	// same-retailer duplicates would land in separate clusters that both
	// derive the same barcode canonical id.
	byBarcode := make(map[string][]int)
	for i, l := range listings {
		if model.ValidBarcode(l.Barcode) {
			byBarcode[l.Barcode] = append(byBarcode[l.Barcode], i)
		}
	}
	componentBarcode := make(map[int]string)
	for code, members := range byBarcode {
		for _, i := range members[1:] {
			uf.union(members[0], i)
		}
		componentBarcode[uf.find(members[0])] = code
	}

	conflicts := 0
	evidence := make(map[int64]model.Edge, len(listings))
	for _, e := range ordered {
		li, okL := idxOf[e.Left]
		ri, okR := idxOf[e.Right]
		if !okL || !okR {
			continue
		}

		ra, rb := uf.find(li), uf.find(ri)
		if ra != rb {
			ba, hasA := componentBarcode[ra]
			bb, hasB := componentBarcode[rb]
			if hasA && hasB && ba != bb {
				conflicts++
				log.Warn("barcode conflict, dropping lower-priority edge",
					zap.Int64("left", e.Left),
					zap.Int64("right", e.Right),
					zap.String("method", string(e.Method)),
					zap.String("barcode_a", ba),
					zap.String("barcode_b", bb),
				)
				continue
			}
			uf.union(li, ri)
			root := uf.find(li)
			if hasA {
				componentBarcode[root] = ba
			} else if hasB {
				componentBarcode[root] = bb
			}
		}

		// Per-listing match evidence: the first (highest-priority) edge
		// touching a listing wins.
		if _, ok := evidence[e.Left]; !ok {
			evidence[e.Left] = e
		}
		if _, ok := evidence[e.Right]; !ok {
			evidence[e.Right] = e
		}
	}

	// Group members per component, deterministically ordered.
	components := make(map[int][]int)
	for i := range listings {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}
	roots := make([]int, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	now := time.Now().UTC()
	result := ClusterResult{Conflicts: conflicts}
	for _, root := range roots {
		members := make([]model.ProductListing, 0, len(components[root]))
		for _, i := range components[root] {
			members = append(members, listings[i])
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		canonical := deriveCanonical(members)
		result.Canonicals = append(result.Canonicals, canonical)

		for _, m := range members {
			lm := model.ListingMatch{
				ListingID:   m.ID,
				CanonicalID: canonical.CanonicalID,
				SourceType:  m.SourceType,
				Method:      model.MethodNew,
				Confidence:  1.0,
				CreatedAt:   now,
			}
			if e, ok := evidence[m.ID]; ok {
				lm.Method = e.Method
				lm.Confidence = e.Confidence
				lm.Details = e.Details
			}
			result.Matches = append(result.Matches, lm)
		}
	}

	log.Info("cluster build complete",
		zap.Int("clusters", len(result.Canonicals)),
		zap.Int("conflicts", conflicts),
	)
	return result
}

// deriveCanonical builds the canonical product for one cluster. The
// representative prefers a commercial-source member (richer imagery and
// brand data) and falls back to the lowest listing id. Aggregates are
// recomputed from all members.
func deriveCanonical(members []model.ProductListing) model.CanonicalProduct {
	rep := members[0]
	for _, m := range members {
		if m.SourceType == model.SourceCommercial {
			rep = m
			break
		}
	}

	cp := model.CanonicalProduct{
		CanonicalID:  canonicalID(members, rep),
		Name:         rep.Name,
		Brand:        rep.Brand,
		Category:     rep.Category,
		ImageURL:     rep.ImageURL,
		ListingCount: len(members),
		Attributes:   rep.Attributes,
	}

	retailers := make(map[string]bool)
	var sum float64
	var priced int
	for _, m := range members {
		if model.ValidBarcode(m.Barcode) && cp.PrimaryBarcode == "" {
			cp.PrimaryBarcode = m.Barcode
		}
		retailers[m.RetailerID] = true
		if m.Price <= 0 {
			continue
		}
		if priced == 0 || m.Price < cp.PriceMin {
			cp.PriceMin = m.Price
		}
		if m.Price > cp.PriceMax {
			cp.PriceMax = m.Price
		}
		sum += m.Price
		priced++
	}
	if priced > 0 {
		cp.PriceAvg = sum / float64(priced)
	}

	cp.Retailers = make([]string, 0, len(retailers))
	for r := range retailers {
		cp.Retailers = append(cp.Retailers, r)
	}
	sort.Strings(cp.Retailers)

	return cp
}

// canonicalID derives the stable cluster id: "canon_<barcode>" when any
// member carries a valid barcode, otherwise a stable hash of the
// representative's normalized brand+name.
func canonicalID(members []model.ProductListing, rep model.ProductListing) string {
	for _, m := range members {
		if model.ValidBarcode(m.Barcode) {
			return "canon_" + m.Barcode
		}
	}
	return HashedCanonicalID(rep.Brand, rep.Name)
}

// HashedCanonicalID returns the barcode-less canonical id: an FNV-64a hash
// of the normalized brand and name. The "canon_h" prefix keeps the hashed
// namespace disjoint from barcode-derived ids.
func HashedCanonicalID(brand, name string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeBrand(brand)))
	h.Write([]byte{'|'})
	h.Write([]byte(NormalizeName(name)))
	return fmt.Sprintf("canon_h%016x", h.Sum64())
}
