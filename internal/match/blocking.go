package match

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/pricematch-cli/internal/model"
)

// brandSimilarityFloor is the minimum brand string ratio for two distinct
// brand buckets to be considered the same brand for candidate generation.
const brandSimilarityFloor = 0.85

// CandidatePair is an unordered pair of listing ids, stored with A < B.
type CandidatePair struct {
	A, B int64
}

// BlockingIndex bounds the comparison space before expensive scoring. It is
// a pure function of the listing set; building it has no side effects.
type BlockingIndex struct {
	// tokenBuckets maps a name token to the ids of listings containing it.
	tokenBuckets map[string][]int64
	// brandGroups maps a normalized brand to its listing ids.
	brandGroups map[string][]int64
	// brandKeys holds the sorted group keys for fuzzy-brand lookup.
	brandKeys []string
	// skippedTokens counts buckets dropped for exceeding the bucket bound.
	skippedTokens int
}

// BuildBlockingIndex tokenizes every listing name and groups listings by
// token and by normalized brand.
func BuildBlockingIndex(listings []model.ProductListing) *BlockingIndex {
	idx := &BlockingIndex{
		tokenBuckets: make(map[string][]int64),
		brandGroups:  make(map[string][]int64),
	}

	for _, l := range listings {
		for _, tok := range Tokenize(l.Name) {
			idx.tokenBuckets[tok] = append(idx.tokenBuckets[tok], l.ID)
		}
		if brand := NormalizeBrand(l.Brand); brand != "" {
			idx.brandGroups[brand] = append(idx.brandGroups[brand], l.ID)
		}
	}

	for _, ids := range idx.tokenBuckets {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	for _, ids := range idx.brandGroups {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	idx.brandKeys = make([]string, 0, len(idx.brandGroups))
	for k := range idx.brandGroups {
		idx.brandKeys = append(idx.brandKeys, k)
	}
	sort.Strings(idx.brandKeys)

	return idx
}

// CandidatePairs expands token buckets into unordered candidate pairs.
// Buckets with fewer than 2 members produce nothing; buckets at or above
// maxBucket are too generic to be informative and are skipped with a log
// line, not an error. Pairs are returned sorted for determinism.
func (idx *BlockingIndex) CandidatePairs(maxBucket int) []CandidatePair {
	log := zap.L().With(zap.String("component", "blocking_index"))

	seen := make(map[CandidatePair]bool)
	idx.skippedTokens = 0

	toks := make([]string, 0, len(idx.tokenBuckets))
	for tok := range idx.tokenBuckets {
		toks = append(toks, tok)
	}
	sort.Strings(toks)

	for _, tok := range toks {
		ids := idx.tokenBuckets[tok]
		if len(ids) < 2 {
			continue
		}
		if len(ids) >= maxBucket {
			idx.skippedTokens++
			log.Debug("skipping over-generic token bucket",
				zap.String("token", tok),
				zap.Int("bucket_size", len(ids)),
				zap.Int("max_bucket", maxBucket),
			)
			continue
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				seen[CandidatePair{A: ids[i], B: ids[j]}] = true
			}
		}
	}

	pairs := make([]CandidatePair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})

	if idx.skippedTokens > 0 {
		log.Info("token buckets skipped as over-generic", zap.Int("skipped", idx.skippedTokens))
	}

	return pairs
}

// BrandCandidates returns the listing ids in the same brand bucket as the
// given brand, plus the ids of any bucket whose brand string is
// fuzzy-similar (ratio >= 0.85). Unbranded listings get no brand-scoped
// candidates.
func (idx *BlockingIndex) BrandCandidates(brand string) []int64 {
	norm := NormalizeBrand(brand)
	if norm == "" {
		return nil
	}

	var out []int64
	for _, key := range idx.brandKeys {
		if key == norm || Ratio(key, norm) >= brandSimilarityFloor {
			out = append(out, idx.brandGroups[key]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SkippedTokens reports how many buckets the last CandidatePairs call
// dropped for exceeding the bucket bound.
func (idx *BlockingIndex) SkippedTokens() int {
	return idx.skippedTokens
}
