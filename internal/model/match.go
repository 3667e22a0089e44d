package model

import "time"

// MatchMethod identifies which tier produced a match.
type MatchMethod string

const (
	MethodBarcode MatchMethod = "barcode"
	MethodFuzzy   MatchMethod = "fuzzy"
	MethodVector  MatchMethod = "vector"
	MethodLLM     MatchMethod = "llm"
	MethodNew     MatchMethod = "new"
)

// Priority orders methods for conflict resolution: a match from a higher
// tier always wins over a later one. Higher value = higher priority.
func (m MatchMethod) Priority() int {
	switch m {
	case MethodBarcode:
		return 4
	case MethodFuzzy:
		return 3
	case MethodVector:
		return 2
	case MethodLLM:
		return 1
	default:
		return 0
	}
}

// Edge is a pairwise match produced by one tier. Left < Right by listing id.
type Edge struct {
	Left       int64
	Right      int64
	Method     MatchMethod
	Confidence float64
	Details    string
}

// ListingMatch is the persisted listing→canonical mapping. Confidence for
// MethodBarcode is always exactly 1.0; other methods carry the computed
// score that cleared their tier's acceptance threshold.
type ListingMatch struct {
	ListingID   int64       `json:"listing_id"`
	CanonicalID string      `json:"canonical_id"`
	SourceType  SourceType  `json:"source_type"`
	Confidence  float64     `json:"confidence"`
	Method      MatchMethod `json:"match_method"`
	Details     string      `json:"details,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MatchRun is the end-of-run summary persisted for diagnostics.
type MatchRun struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Listings      int       `json:"listings"`
	Canonicals    int       `json:"canonicals"`
	BarcodePairs  int       `json:"barcode_pairs"`
	FuzzyPairs    int       `json:"fuzzy_pairs"`
	VectorPairs   int       `json:"vector_pairs"`
	LLMPairs      int       `json:"llm_pairs"`
	Unmatched     int       `json:"unmatched"`
	FailedBatches int       `json:"failed_batches"`
}

// FailedBatch records an arbitration batch that produced no usable result
// (timeout after retries, or a malformed response). Recorded for the run
// report; never fatal to the run.
type FailedBatch struct {
	RunID     string    `json:"run_id"`
	BatchID   string    `json:"batch_id"`
	Listings  []int64   `json:"listings"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
