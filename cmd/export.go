package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

var (
	exportOutPath string
	exportLimit   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export canonical products to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		products, err := st.ListCanonicals(ctx, exportLimit)
		if err != nil {
			return eris.Wrap(err, "list canonical products")
		}
		if len(products) == 0 {
			return eris.New("no canonical products to export; run match first")
		}

		f := xlsx.NewFile()
		sheet, err := f.AddSheet("Canonical Products")
		if err != nil {
			return eris.Wrap(err, "add sheet")
		}

		header := sheet.AddRow()
		for _, name := range []string{
			"canonical_id", "name", "brand", "barcode", "category",
			"price_min", "price_max", "price_avg", "listings", "retailers",
		} {
			header.AddCell().Value = name
		}

		for _, p := range products {
			row := sheet.AddRow()
			row.AddCell().Value = p.CanonicalID
			row.AddCell().Value = p.Name
			row.AddCell().Value = p.Brand
			row.AddCell().Value = p.PrimaryBarcode
			row.AddCell().Value = p.Category
			row.AddCell().SetFloat(p.PriceMin)
			row.AddCell().SetFloat(p.PriceMax)
			row.AddCell().SetFloat(p.PriceAvg)
			row.AddCell().SetInt(p.ListingCount)
			row.AddCell().Value = strings.Join(p.Retailers, ", ")
		}

		if err := f.Save(exportOutPath); err != nil {
			return eris.Wrap(err, "save workbook")
		}

		zap.L().Info("export complete",
			zap.Int("products", len(products)),
			zap.String("out", exportOutPath),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "canonical_products.xlsx", "output workbook path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 100000, "maximum products to export")
	rootCmd.AddCommand(exportCmd)
}
