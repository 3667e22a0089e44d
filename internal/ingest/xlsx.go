package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// ReadListingsXLSX parses a listing export spreadsheet. Government price
// files arrive as spreadsheets with inconsistent rows, so malformed rows are
// skipped with a warning rather than failing the import.
func ReadListingsXLSX(path string, sheetName string) ([]model.ProductListing, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}

	sheet, err := pickSheet(f, sheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("ingest: empty sheet")
	}

	header := rowToStrings(sheet.Rows[0])
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var listings []model.ProductListing
	for i, row := range sheet.Rows[1:] {
		record := rowToStrings(row)
		if allEmpty(record) {
			continue
		}
		l, err := parseRow(record, cols)
		if err != nil {
			logSkipped("xlsx", i+2, err)
			continue
		}
		listings = append(listings, l)
	}

	return listings, nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name == "" {
		if len(f.Sheets) == 0 {
			return nil, eris.New("ingest: xlsx has no sheets")
		}
		return f.Sheets[0], nil
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("ingest: sheet %q not found", name)
	}
	return sheet, nil
}

func rowToStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = cell.String()
	}
	return out
}

func allEmpty(record []string) bool {
	for _, v := range record {
		if v != "" {
			return false
		}
	}
	return true
}
