package match

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// MatchExact is tier 1: exact barcode matching. Listings with a valid
// 8/12/13-digit barcode are grouped by barcode; any group spanning more
// than one retailer becomes a match with confidence exactly 1.0. A
// single-retailer group simply has no cross-retailer counterpart yet and
// produces nothing. All members of a matched group are claimed.
func MatchExact(listings []model.ProductListing, claims ClaimSet) []model.Edge {
	log := zap.L().With(zap.String("component", "exact_matcher"))

	groups := make(map[string][]model.ProductListing)
	for _, l := range listings {
		if claims.Claimed(l.ID) {
			continue
		}
		if !model.ValidBarcode(l.Barcode) {
			if l.Barcode != "" {
				log.Debug("invalid barcode, listing falls through to later tiers",
					zap.Int64("listing_id", l.ID),
					zap.String("barcode", l.Barcode),
				)
			}
			continue
		}
		groups[l.Barcode] = append(groups[l.Barcode], l)
	}

	barcodes := make([]string, 0, len(groups))
	for bc := range groups {
		barcodes = append(barcodes, bc)
	}
	sort.Strings(barcodes)

	var edges []model.Edge
	for _, bc := range barcodes {
		members := groups[bc]
		if len(members) < 2 || !crossRetailer(members) {
			continue
		}

		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		// Star edges from the lowest id are enough: the cluster builder
		// computes connected components, which restores transitivity.
		anchor := members[0]
		for _, m := range members[1:] {
			edges = append(edges, model.Edge{
				Left:       anchor.ID,
				Right:      m.ID,
				Method:     model.MethodBarcode,
				Confidence: 1.0,
				Details:    fmt.Sprintf("barcode=%s", bc),
			})
		}
		for _, m := range members {
			claims.Claim(m.ID)
		}
	}

	log.Info("exact barcode tier complete", zap.Int("edges", len(edges)))
	return edges
}

// crossRetailer reports whether the group has members from more than one
// retailer.
func crossRetailer(members []model.ProductListing) bool {
	first := members[0].RetailerID
	for _, m := range members[1:] {
		if m.RetailerID != first {
			return true
		}
	}
	return false
}
