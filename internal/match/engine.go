package match

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// Config holds the tunable thresholds of the matching engine.
type Config struct {
	// FuzzyThreshold is the tier-2 acceptance threshold (strict >=).
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	// VectorThreshold is the tier-3 cosine similarity threshold.
	VectorThreshold float64 `yaml:"vector_threshold" mapstructure:"vector_threshold"`
	// BucketBound skips token buckets at or above this size during blocking.
	BucketBound int `yaml:"bucket_bound" mapstructure:"bucket_bound"`
	// SizeTolerance is the maximum relative size difference considered equal.
	SizeTolerance float64 `yaml:"size_tolerance" mapstructure:"size_tolerance"`
	// LLMSampleSize caps listings sent to arbitration per run.
	LLMSampleSize int `yaml:"llm_sample_size" mapstructure:"llm_sample_size"`
	// LLMBatchSize is the per-side batch size for one arbitration call.
	LLMBatchSize int `yaml:"llm_batch_size" mapstructure:"llm_batch_size"`
}

// DefaultConfig returns the standard deployment thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:  0.85,
		VectorThreshold: 0.78,
		BucketBound:     300,
		SizeTolerance:   0.20,
		LLMSampleSize:   200,
		LLMBatchSize:    10,
	}
}

// Result is the complete output of one matching run.
type Result struct {
	Canonicals    []model.CanonicalProduct
	Matches       []model.ListingMatch
	FailedBatches []model.FailedBatch
	Run           model.MatchRun
}

// Engine runs the tiered matching pipeline: blocking, exact barcode, fuzzy,
// vector, arbitration, then cluster construction. It is a single-pass batch
// job; the only shared state across tiers is the claimed-listing set, which
// is updated strictly sequentially.
type Engine struct {
	cfg     Config
	arbiter *Arbiter
}

// NewEngine builds an engine. arbiter may be nil, which disables tier 4
// (remaining listings become singleton canonicals).
func NewEngine(cfg Config, arbiter *Arbiter) *Engine {
	return &Engine{cfg: cfg, arbiter: arbiter}
}

// Run executes the full pipeline over the listing set. It is deterministic
// for a fixed listing set except for the arbitration tier's service
// responses.
func (e *Engine) Run(ctx context.Context, listings []model.ProductListing) (*Result, error) {
	log := zap.L().With(zap.String("component", "match_engine"))
	started := time.Now().UTC()

	if len(listings) == 0 {
		return nil, eris.New("match: no listings to process")
	}
	if err := validateListings(listings); err != nil {
		return nil, err
	}

	log.Info("matching run starting",
		zap.Int("listings", len(listings)),
		zap.Float64("fuzzy_threshold", e.cfg.FuzzyThreshold),
		zap.Float64("vector_threshold", e.cfg.VectorThreshold),
	)

	claims := NewClaimSet()
	var edges []model.Edge

	// Tier 1: exact barcode.
	barcodeEdges := MatchExact(listings, claims)
	edges = append(edges, barcodeEdges...)

	// Blocking for tier 2.
	idx := BuildBlockingIndex(listings)
	pairs := idx.CandidatePairs(e.cfg.BucketBound)

	// Tier 2: fuzzy brand+name.
	fuzzy := &FuzzyMatcher{Threshold: e.cfg.FuzzyThreshold, SizeTolerance: e.cfg.SizeTolerance}
	fuzzyEdges := fuzzy.Match(listings, idx, pairs, claims)
	edges = append(edges, fuzzyEdges...)

	// Tier 3: embedding similarity.
	vector := &VectorMatcher{Threshold: e.cfg.VectorThreshold, SizeTolerance: e.cfg.SizeTolerance}
	vectorEdges := vector.Match(listings, claims)
	edges = append(edges, vectorEdges...)

	// Tier 4: bounded, best-effort arbitration.
	var llmEdges []model.Edge
	var failed []model.FailedBatch
	if e.arbiter != nil {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "match: canceled before arbitration")
		}
		llmEdges, failed = e.arbiter.Match(ctx, listings, claims)
		edges = append(edges, llmEdges...)
	}

	clusters := BuildClusters(listings, edges)

	unmatched := 0
	for _, m := range clusters.Matches {
		if m.Method == model.MethodNew {
			unmatched++
		}
	}

	run := model.MatchRun{
		ID:            uuid.NewString(),
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		Listings:      len(listings),
		Canonicals:    len(clusters.Canonicals),
		BarcodePairs:  len(barcodeEdges),
		FuzzyPairs:    len(fuzzyEdges),
		VectorPairs:   len(vectorEdges),
		LLMPairs:      len(llmEdges),
		Unmatched:     unmatched,
		FailedBatches: len(failed),
	}
	for i := range failed {
		failed[i].RunID = run.ID
	}

	log.Info("matching run complete",
		zap.String("run_id", run.ID),
		zap.Int("canonicals", run.Canonicals),
		zap.Int("barcode_pairs", run.BarcodePairs),
		zap.Int("fuzzy_pairs", run.FuzzyPairs),
		zap.Int("vector_pairs", run.VectorPairs),
		zap.Int("llm_pairs", run.LLMPairs),
		zap.Int("unmatched", run.Unmatched),
		zap.Int("failed_batches", run.FailedBatches),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)

	return &Result{
		Canonicals:    clusters.Canonicals,
		Matches:       clusters.Matches,
		FailedBatches: failed,
		Run:           run,
	}, nil
}

// validateListings rejects structurally unusable input: duplicate or
// non-positive ids, missing retailer or name. Optional fields (barcode,
// brand, size, embedding) gate tiers but never fail validation.
func validateListings(listings []model.ProductListing) error {
	seen := make(map[int64]bool, len(listings))
	for _, l := range listings {
		if l.ID <= 0 {
			return eris.Errorf("match: listing with non-positive id %d", l.ID)
		}
		if seen[l.ID] {
			return eris.Errorf("match: duplicate listing id %d", l.ID)
		}
		seen[l.ID] = true
		if l.RetailerID == "" {
			return eris.Errorf("match: listing %d has no retailer", l.ID)
		}
		if l.Name == "" {
			return eris.Errorf("match: listing %d has no name", l.ID)
		}
	}
	return nil
}
