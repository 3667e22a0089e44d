package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/ingest"
	"github.com/sells-group/pricematch-cli/internal/model"
)

var (
	importFilePath       string
	importSheetName      string
	importEmbeddingsPath string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import listings from a CSV or XLSX export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var listings []model.ProductListing
		var err error
		switch ext := strings.ToLower(filepath.Ext(importFilePath)); ext {
		case ".csv":
			listings, err = ingest.ReadListingsCSV(importFilePath)
		case ".xlsx":
			listings, err = ingest.ReadListingsXLSX(importFilePath, importSheetName)
		default:
			return eris.Errorf("unsupported listing file extension %q", ext)
		}
		if err != nil {
			return eris.Wrap(err, "read listings")
		}
		if len(listings) == 0 {
			return eris.New("no listings parsed from file")
		}

		if importEmbeddingsPath != "" {
			embeddings, err := ingest.ReadEmbeddings(importEmbeddingsPath)
			if err != nil {
				return eris.Wrap(err, "read embeddings")
			}
			attached := 0
			for i := range listings {
				if emb, ok := embeddings[listings[i].ID]; ok {
					listings[i].Embedding = emb
					attached++
				}
			}
			zap.L().Info("embeddings attached",
				zap.Int("vectors", len(embeddings)),
				zap.Int("attached", attached),
			)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.UpsertListings(ctx, listings)
		if err != nil {
			return eris.Wrap(err, "upsert listings")
		}

		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to listing CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importSheetName, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().StringVar(&importEmbeddingsPath, "embeddings", "", "path to JSONL embedding sidecar")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
