// Package ingest parses retailer listing exports (CSV and XLSX) into
// product listings, and reads embedding sidecar files.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// Listing files carry a header row. Column order is free; names are matched
// case-insensitively. listing_id, retailer_id, and name are required.
var requiredColumns = []string{"listing_id", "retailer_id", "name"}

// attributeColumns are optional columns folded into the listing attribute map.
var attributeColumns = []string{"size_value", "size_unit", "unit_count"}

// ReadListingsCSV parses a listing export CSV.
func ReadListingsCSV(path string) ([]model.ProductListing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var listings []model.ProductListing
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read csv line %d", line+1)
		}
		line++

		l, err := parseRow(record, cols)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: csv line %d", line)
		}
		listings = append(listings, l)
	}

	return listings, nil
}

// columnIndex maps lowercased header names to positions and checks the
// required columns are present.
func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, eris.Errorf("ingest: missing required column %q", req)
		}
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (model.ProductListing, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	id, err := strconv.ParseInt(field("listing_id"), 10, 64)
	if err != nil {
		return model.ProductListing{}, eris.Wrap(err, "parse listing_id")
	}

	l := model.ProductListing{
		ID:         id,
		RetailerID: field("retailer_id"),
		SourceType: model.SourceCommercial,
		Name:       field("name"),
		Brand:      field("brand"),
		Barcode:    field("barcode"),
		ImageURL:   field("image_url"),
		Category:   field("category"),
	}

	switch source := field("source_type"); source {
	case "", string(model.SourceCommercial):
	case string(model.SourceGovernment):
		l.SourceType = model.SourceGovernment
	default:
		return model.ProductListing{}, eris.Errorf("unknown source_type %q", source)
	}

	if price := field("price"); price != "" {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil {
			return model.ProductListing{}, eris.Wrap(err, "parse price")
		}
		l.Price = p
	}

	for _, attr := range attributeColumns {
		if v := field(attr); v != "" {
			if l.Attributes == nil {
				l.Attributes = make(map[string]string)
			}
			l.Attributes[attr] = v
		}
	}

	if l.RetailerID == "" {
		return model.ProductListing{}, eris.New("empty retailer_id")
	}
	if l.Name == "" {
		return model.ProductListing{}, eris.New("empty name")
	}

	return l, nil
}

// logSkipped reports rows dropped during parsing. Kept as a helper so both
// readers log the same shape.
func logSkipped(format string, line int, err error) {
	zap.L().Warn("skipping listing row",
		zap.String("format", format),
		zap.Int("line", line),
		zap.Error(err),
	)
}
