// Package store persists listings, canonical products, and match results
// behind a driver-agnostic interface (PostgreSQL for deployments, SQLite
// for local runs).
package store

import (
	"context"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// Store defines the persistence interface for the matching pipeline. All
// writes are upserts keyed by primary key, so re-running the pipeline over
// an unchanged listing set is idempotent.
type Store interface {
	// Listings (written by the ETL collaborator or the import command;
	// read-only to the matching engine).
	UpsertListings(ctx context.Context, listings []model.ProductListing) (int64, error)
	LoadListings(ctx context.Context) ([]model.ProductListing, error)
	CountListings(ctx context.Context) (int, error)

	// Match output.
	UpsertCanonicals(ctx context.Context, products []model.CanonicalProduct) (int64, error)
	UpsertMatches(ctx context.Context, matches []model.ListingMatch) (int64, error)
	ListCanonicals(ctx context.Context, limit int) ([]model.CanonicalProduct, error)
	CountCanonicals(ctx context.Context) (int, error)
	MethodCounts(ctx context.Context) (map[model.MatchMethod]int, error)

	// Run diagnostics.
	RecordRun(ctx context.Context, run model.MatchRun) error
	ListRuns(ctx context.Context, limit int) ([]model.MatchRun, error)
	RecordFailedBatches(ctx context.Context, batches []model.FailedBatch) error
	DLQDepth(ctx context.Context) (int, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
