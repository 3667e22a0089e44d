package ingest

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// embeddingRow is one line of the embedding sidecar file: JSONL with a
// listing id and its vector, as produced by the embedding batch job.
type embeddingRow struct {
	ListingID int64     `json:"listing_id"`
	Embedding []float32 `json:"embedding"`
}

// ReadEmbeddings reads a JSONL embedding sidecar into a listing-id keyed map.
// All vectors must share one dimension.
func ReadEmbeddings(path string) (map[int64][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open embeddings")
	}
	defer f.Close()

	out := make(map[int64][]float32)
	dim := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var row embeddingRow
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, eris.Wrapf(err, "ingest: embeddings line %d", line)
		}
		if len(row.Embedding) == 0 {
			return nil, eris.Errorf("ingest: embeddings line %d: empty vector", line)
		}
		if dim == 0 {
			dim = len(row.Embedding)
		} else if len(row.Embedding) != dim {
			return nil, eris.Errorf("ingest: embeddings line %d: dimension %d, want %d", line, len(row.Embedding), dim)
		}
		out[row.ListingID] = row.Embedding
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: scan embeddings")
	}
	return out, nil
}
