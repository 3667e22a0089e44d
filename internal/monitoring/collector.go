// Package monitoring aggregates pipeline health metrics from the store for
// the stats command and the serve endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricematch-cli/internal/model"
	"github.com/sells-group/pricematch-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of matcher health.
type MetricsSnapshot struct {
	// Corpus counts.
	Listings   int `json:"listings"`
	Canonicals int `json:"canonicals"`

	// Persisted matches by method.
	BarcodeMatches int `json:"barcode_matches"`
	FuzzyMatches   int `json:"fuzzy_matches"`
	VectorMatches  int `json:"vector_matches"`
	LLMMatches     int `json:"llm_matches"`
	NewProducts    int `json:"new_products"`

	// Derived: share of listings attached to a multi-listing canonical.
	MatchRate float64 `json:"match_rate"`

	// Arbitration dead letters.
	DLQDepth int `json:"dlq_depth"`

	// Most recent run, if any.
	LastRun *model.MatchRun `json:"last_run,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of matcher metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	listings, err := c.store.CountListings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count listings")
	}
	snap.Listings = listings

	canonicals, err := c.store.CountCanonicals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count canonical products")
	}
	snap.Canonicals = canonicals

	counts, err := c.store.MethodCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: method counts")
	}
	snap.BarcodeMatches = counts[model.MethodBarcode]
	snap.FuzzyMatches = counts[model.MethodFuzzy]
	snap.VectorMatches = counts[model.MethodVector]
	snap.LLMMatches = counts[model.MethodLLM]
	snap.NewProducts = counts[model.MethodNew]

	matched := snap.BarcodeMatches + snap.FuzzyMatches + snap.VectorMatches + snap.LLMMatches
	if total := matched + snap.NewProducts; total > 0 {
		snap.MatchRate = float64(matched) / float64(total)
	}

	dlq, err := c.store.DLQDepth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: dlq depth")
	}
	snap.DLQDepth = dlq

	runs, err := c.store.ListRuns(ctx, 1)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	if len(runs) > 0 {
		snap.LastRun = &runs[0]
	}

	return snap, nil
}
