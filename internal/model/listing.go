package model

import (
	"strconv"
	"strings"
)

// SourceType identifies the origin class of a listing.
type SourceType string

const (
	// SourceCommercial is a storefront scrape (richer imagery and brand data).
	SourceCommercial SourceType = "commercial"
	// SourceGovernment is a government price-transparency feed.
	SourceGovernment SourceType = "government"
)

// ProductListing is one retailer's observation of one item. Listings are
// produced by the scraping/ETL collaborator and are read-only to the
// matching engine.
type ProductListing struct {
	ID         int64             `json:"listing_id"`
	RetailerID string            `json:"retailer_id"`
	SourceType SourceType        `json:"source_type"`
	Name       string            `json:"name"`
	Brand      string            `json:"brand,omitempty"`
	Barcode    string            `json:"barcode,omitempty"`
	Price      float64           `json:"price"`
	ImageURL   string            `json:"image_url,omitempty"`
	Category   string            `json:"category,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

// SizeValue is the parsed numeric size attribute of a listing. OK is false
// when the attribute is absent or unparsable; absence is expected and is
// scored as neutral, never as an error.
type SizeValue struct {
	Value float64
	OK    bool
}

// Size extracts the numeric size attribute from the listing's open
// attribute map. Accepts plain numbers and numbers with trailing unit text
// ("400", "400ml", "1.5 l").
func (l *ProductListing) Size() SizeValue {
	if l.Attributes == nil {
		return SizeValue{}
	}
	raw, ok := l.Attributes["size_value"]
	if !ok {
		return SizeValue{}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SizeValue{}
	}

	// Cut trailing unit text: keep the leading numeric prefix.
	end := len(raw)
	for i, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			end = i
			break
		}
	}
	v, err := strconv.ParseFloat(raw[:end], 64)
	if err != nil || v <= 0 {
		return SizeValue{}
	}
	return SizeValue{Value: v, OK: true}
}

// HasEmbedding reports whether the listing carries a precomputed embedding
// vector and is therefore eligible for semantic matching.
func (l *ProductListing) HasEmbedding() bool {
	return len(l.Embedding) > 0
}

// ValidBarcode reports whether s is a well-formed EAN/UPC barcode:
// 8, 12, or 13 digits, nothing else. Trailing disambiguation suffixes
// (e.g. "...-1") are an ETL responsibility and are not stripped here.
func ValidBarcode(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 8 && len(s) != 12 && len(s) != 13 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
