package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/match"
)

var (
	matchNoLLM   bool
	matchDryRun  bool
	matchFuzzyTh float64
	matchVecTh   float64
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run the matching pipeline over stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		listings, err := st.LoadListings(ctx)
		if err != nil {
			return eris.Wrap(err, "load listings")
		}
		if len(listings) == 0 {
			return eris.New("no listings in store; run import first")
		}

		mcfg := matcherConfig()
		if cmd.Flags().Changed("fuzzy-threshold") {
			mcfg.FuzzyThreshold = matchFuzzyTh
		}
		if cmd.Flags().Changed("vector-threshold") {
			mcfg.VectorThreshold = matchVecTh
		}

		var arbiter *match.Arbiter
		if !matchNoLLM {
			arbiter = initArbiter()
			if arbiter == nil {
				zap.L().Warn("no anthropic key configured, arbitration tier disabled")
			}
		}

		engine := match.NewEngine(mcfg, arbiter)
		result, err := engine.Run(ctx, listings)
		if err != nil {
			return eris.Wrap(err, "matching run")
		}

		if matchDryRun {
			zap.L().Info("dry run, skipping persistence")
		} else {
			if _, err := st.UpsertCanonicals(ctx, result.Canonicals); err != nil {
				return eris.Wrap(err, "upsert canonical products")
			}
			if _, err := st.UpsertMatches(ctx, result.Matches); err != nil {
				return eris.Wrap(err, "upsert matches")
			}
			if err := st.RecordRun(ctx, result.Run); err != nil {
				return eris.Wrap(err, "record run")
			}
			if len(result.FailedBatches) > 0 {
				if err := st.RecordFailedBatches(ctx, result.FailedBatches); err != nil {
					return eris.Wrap(err, "record failed batches")
				}
			}
		}

		// Print the run summary to stdout.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Run)
	},
}

func init() {
	matchCmd.Flags().BoolVar(&matchNoLLM, "no-llm", false, "disable the Claude arbitration tier")
	matchCmd.Flags().BoolVar(&matchDryRun, "dry-run", false, "run matching without persisting results")
	matchCmd.Flags().Float64Var(&matchFuzzyTh, "fuzzy-threshold", 0, "override fuzzy acceptance threshold")
	matchCmd.Flags().Float64Var(&matchVecTh, "vector-threshold", 0, "override cosine similarity threshold")
	rootCmd.AddCommand(matchCmd)
}
