package model

// CanonicalProduct is the deduplicated representation of one physical item
// across every retailer that sells it. Aggregates are recomputed from all
// cluster members at finalization, never incrementally.
type CanonicalProduct struct {
	CanonicalID    string            `json:"canonical_id"`
	Name           string            `json:"canonical_name"`
	Brand          string            `json:"canonical_brand,omitempty"`
	PrimaryBarcode string            `json:"primary_barcode,omitempty"`
	Category       string            `json:"category,omitempty"`
	ImageURL       string            `json:"image_url,omitempty"`
	PriceMin       float64           `json:"price_min"`
	PriceMax       float64           `json:"price_max"`
	PriceAvg       float64           `json:"price_avg"`
	ListingCount   int               `json:"listing_count"`
	Retailers      []string          `json:"retailer_coverage"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}
