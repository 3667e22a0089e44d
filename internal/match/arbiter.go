package match

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricematch-cli/internal/model"
	"github.com/sells-group/pricematch-cli/internal/resilience"
	"github.com/sells-group/pricematch-cli/pkg/claude"
)

// llmMinConfidence filters accepted arbitration matches. The service's
// self-reported confidence must strictly exceed this to be materialized.
const llmMinConfidence = 0.8

// ArbiterConfig bounds the cost of the arbitration tier.
type ArbiterConfig struct {
	// SampleSize caps how many still-unclaimed listings are sent to the
	// classification service per run.
	SampleSize int
	// BatchSize is the number of listings per side in one service call.
	BatchSize int
	// MaxConcurrent limits parallel in-flight batches.
	MaxConcurrent int
	// RequestsPerSecond respects the service's rate limit.
	RequestsPerSecond float64
	// BatchTimeout bounds the blocking wait per batch.
	BatchTimeout time.Duration
}

func (c ArbiterConfig) withDefaults() ArbiterConfig {
	if c.SampleSize <= 0 {
		c.SampleSize = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 90 * time.Second
	}
	return c
}

// Arbiter is tier 4: best-effort arbitration of remaining unmatched
// listings through the external classification service. It is bounded by a
// sample size and never fatal to the run: a batch that times out after
// retries or returns malformed data is recorded as zero matches.
type Arbiter struct {
	classifier claude.Classifier
	cfg        ArbiterConfig
	retry      resilience.RetryConfig
}

// NewArbiter builds the arbitration matcher.
func NewArbiter(classifier claude.Classifier, cfg ArbiterConfig) *Arbiter {
	return &Arbiter{
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// arbitrationBatch is one service call: a commercial-side and a
// reference-side slice with a batch-local index → listing id mapping.
type arbitrationBatch struct {
	id         string
	commercial []claude.Item
	reference  []claude.Item
	byIndex    map[int]model.ProductListing
}

type batchOutcome struct {
	batch   arbitrationBatch
	matches []claude.PairMatch
	err     error
}

// Match samples unclaimed listings, sends them to the classification
// service in parallel batches under a rate limit, and materializes accepted
// matches above the confidence floor. Failed batches are returned for the
// run report rather than aborting anything.
func (a *Arbiter) Match(ctx context.Context, listings []model.ProductListing, claims ClaimSet) ([]model.Edge, []model.FailedBatch) {
	log := zap.L().With(zap.String("component", "arbiter"))

	batches := a.buildBatches(listings, claims)
	if len(batches) == 0 {
		return nil, nil
	}
	log.Info("arbitration tier starting", zap.Int("batches", len(batches)))

	outcomes := a.classifyAll(ctx, batches)

	// Claims are applied strictly sequentially in batch order, after all
	// parallel service calls have completed.
	var edges []model.Edge
	var failed []model.FailedBatch
	for _, out := range outcomes {
		if out.err != nil {
			reason := "classification failed"
			if claude.IsParseError(out.err) {
				reason = "malformed response"
			}
			log.Warn("arbitration batch produced no matches",
				zap.String("batch_id", out.batch.id),
				zap.String("reason", reason),
				zap.Error(out.err),
			)
			failed = append(failed, model.FailedBatch{
				BatchID:   out.batch.id,
				Listings:  out.batch.listingIDs(),
				Reason:    fmt.Sprintf("%s: %v", reason, out.err),
				CreatedAt: time.Now().UTC(),
			})
			continue
		}
		edges = append(edges, a.accept(out, claims)...)
	}

	log.Info("arbitration tier complete",
		zap.Int("edges", len(edges)),
		zap.Int("failed_batches", len(failed)),
	)
	return edges, failed
}

// buildBatches splits the bounded sample into commercial-source and
// reference-source sides and chunks them into paired batches.
func (a *Arbiter) buildBatches(listings []model.ProductListing, claims ClaimSet) []arbitrationBatch {
	var commercial, reference []model.ProductListing
	for _, l := range listings {
		if claims.Claimed(l.ID) {
			continue
		}
		if l.SourceType == model.SourceGovernment {
			reference = append(reference, l)
		} else {
			commercial = append(commercial, l)
		}
	}
	sort.Slice(commercial, func(i, j int) bool { return commercial[i].ID < commercial[j].ID })
	sort.Slice(reference, func(i, j int) bool { return reference[i].ID < reference[j].ID })

	// Bound the per-run cost: half the sample budget per side.
	side := a.cfg.SampleSize / 2
	if len(commercial) > side {
		commercial = commercial[:side]
	}
	if len(reference) > side {
		reference = reference[:side]
	}
	if len(commercial) == 0 || len(reference) == 0 {
		return nil
	}

	var batches []arbitrationBatch
	for i := 0; i*a.cfg.BatchSize < len(commercial) && i*a.cfg.BatchSize < len(reference); i++ {
		com := chunk(commercial, i, a.cfg.BatchSize)
		ref := chunk(reference, i, a.cfg.BatchSize)
		if len(com) == 0 || len(ref) == 0 {
			break
		}

		b := arbitrationBatch{
			id:      fmt.Sprintf("batch-%04d", i),
			byIndex: make(map[int]model.ProductListing, len(com)+len(ref)),
		}
		idx := 0
		for _, l := range com {
			b.commercial = append(b.commercial, toItem(idx, l))
			b.byIndex[idx] = l
			idx++
		}
		for _, l := range ref {
			b.reference = append(b.reference, toItem(idx, l))
			b.byIndex[idx] = l
			idx++
		}
		batches = append(batches, b)
	}
	return batches
}

// classifyAll runs the service calls in parallel under the rate limit.
// Outcome order matches batch order regardless of completion order.
func (a *Arbiter) classifyAll(ctx context.Context, batches []arbitrationBatch) []batchOutcome {
	limiter := rate.NewLimiter(rate.Limit(a.cfg.RequestsPerSecond), 1)
	outcomes := make([]batchOutcome, len(batches))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrent)

	for i, b := range batches {
		g.Go(func() error {
			matches, err := a.classifyBatch(gctx, limiter, b)
			mu.Lock()
			outcomes[i] = batchOutcome{batch: b, matches: matches, err: err}
			mu.Unlock()
			// Batch failures are per-batch outcomes, never group failures.
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// classifyBatch performs one rate-limited, retried service call. Only
// transient failures (timeout, 5xx, 429) are retried; malformed responses
// are not.
func (a *Arbiter) classifyBatch(ctx context.Context, limiter *rate.Limiter, b arbitrationBatch) ([]claude.PairMatch, error) {
	retryCfg := a.retry
	retryCfg.OnRetry = resilience.RetryLogger("claude", "classify")
	retryCfg.ShouldRetry = func(err error) bool {
		return !claude.IsParseError(err) && resilience.IsTransient(err)
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]claude.PairMatch, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.BatchTimeout)
		defer cancel()
		return a.classifier.Classify(callCtx, b.commercial, b.reference)
	})
}

// accept materializes the service's judgements for one batch: confidence
// strictly above the floor, indices resolvable, cross-retailer, and both
// listings still unclaimed.
func (a *Arbiter) accept(out batchOutcome, claims ClaimSet) []model.Edge {
	var edges []model.Edge
	for _, m := range out.matches {
		if m.Confidence <= llmMinConfidence || len(m.Indices) < 2 {
			continue
		}
		la, okA := out.batch.byIndex[m.Indices[0]]
		lb, okB := out.batch.byIndex[m.Indices[1]]
		if !okA || !okB {
			continue
		}
		if la.RetailerID == lb.RetailerID {
			continue
		}
		if claims.Claimed(la.ID) || claims.Claimed(lb.ID) {
			continue
		}

		left, right := la.ID, lb.ID
		if right < left {
			left, right = right, left
		}
		edges = append(edges, model.Edge{
			Left:       left,
			Right:      right,
			Method:     model.MethodLLM,
			Confidence: m.Confidence,
			Details:    m.Reason,
		})
		claims.Claim(la.ID, lb.ID)
	}
	return edges
}

func (b arbitrationBatch) listingIDs() []int64 {
	ids := make([]int64, 0, len(b.byIndex))
	for _, l := range b.byIndex {
		ids = append(ids, l.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func toItem(idx int, l model.ProductListing) claude.Item {
	return claude.Item{
		Index:    idx,
		Name:     l.Name,
		Brand:    l.Brand,
		Retailer: l.RetailerID,
		Source:   string(l.SourceType),
		Price:    l.Price,
	}
}

func chunk(listings []model.ProductListing, i, size int) []model.ProductListing {
	start := i * size
	if start >= len(listings) {
		return nil
	}
	end := start + size
	if end > len(listings) {
		end = len(listings)
	}
	return listings[start:end]
}
