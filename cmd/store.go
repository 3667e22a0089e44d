package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricematch-cli/internal/match"
	"github.com/sells-group/pricematch-cli/internal/store"
	"github.com/sells-group/pricematch-cli/pkg/claude"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "pricematch.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("database URL is required (PRICEMATCH_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initArbiter wires the Claude arbitration tier. Returns nil when no API key
// is configured; the engine then skips tier 4.
func initArbiter() *match.Arbiter {
	if cfg.Anthropic.Key == "" {
		return nil
	}
	client := claude.NewClient(cfg.Anthropic.Key)
	classifier := claude.NewClassifier(client, cfg.Anthropic.Model)
	return match.NewArbiter(classifier, match.ArbiterConfig{
		SampleSize:        cfg.Matcher.LLMSampleSize,
		BatchSize:         cfg.Matcher.LLMBatchSize,
		MaxConcurrent:     cfg.Anthropic.MaxConcurrent,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
	})
}

func matcherConfig() match.Config {
	return match.Config{
		FuzzyThreshold:  cfg.Matcher.FuzzyThreshold,
		VectorThreshold: cfg.Matcher.VectorThreshold,
		BucketBound:     cfg.Matcher.BucketBound,
		SizeTolerance:   cfg.Matcher.SizeTolerance,
		LLMSampleSize:   cfg.Matcher.LLMSampleSize,
		LLMBatchSize:    cfg.Matcher.LLMBatchSize,
	}
}
