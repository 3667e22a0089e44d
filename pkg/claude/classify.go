package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Item is one listing serialized into a classification batch. Index is the
// position the model refers back to in its response.
type Item struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Brand    string  `json:"brand,omitempty"`
	Retailer string  `json:"retailer"`
	Source   string  `json:"source"`
	Price    float64 `json:"price"`
}

// PairMatch is one judgement from the classification service: the indices
// it considers the same product, a self-reported confidence, and a short
// justification.
type PairMatch struct {
	Indices    []int   `json:"indices"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ParseError marks a response that was not well-formed structured data.
// Parse errors are never retried; the batch is recorded as zero matches.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("claude: unparseable classification response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err stems from a malformed model response.
func IsParseError(err error) bool {
	var pe *ParseError
	return eris.As(err, &pe)
}

// Classifier judges whether listings in a batch refer to the same product.
type Classifier interface {
	Classify(ctx context.Context, commercial, reference []Item) ([]PairMatch, error)
}

const classifySystemPrompt = `You reconcile retail product listings. Given two lists of product listings (commercial storefront listings and reference price-feed listings), identify which entries describe the same physical product. Product names mix Hebrew and English. Respond ONLY with a JSON array, no prose: [{"indices": [<int>, <int>], "confidence": <0.0-1.0>, "reason": "<short justification>"}]. Return [] when nothing matches. Never pair two listings from the same retailer.`

// classifierClient implements Classifier on top of the message API.
type classifierClient struct {
	client Client
	model  string
}

// NewClassifier builds the production classifier for the given model id.
func NewClassifier(client Client, model string) Classifier {
	return &classifierClient{client: client, model: model}
}

// Classify serializes the two batches into an indexed prompt and parses the
// structured response. A syntactically invalid response yields a ParseError.
func (c *classifierClient) Classify(ctx context.Context, commercial, reference []Item) ([]PairMatch, error) {
	if len(commercial) == 0 || len(reference) == 0 {
		return nil, nil
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, MessageRequest{
		Model:       c.model,
		MaxTokens:   2048,
		System:      classifySystemPrompt,
		Temperature: &temp,
		Messages: []Message{
			{Role: "user", Content: buildPrompt(commercial, reference)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "claude: classify batch")
	}

	zap.L().Debug("classification response",
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)

	matches, err := ParseMatches(resp.Text)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// buildPrompt enumerates both batches as index → name/brand/retailer/price
// lines the model can reference by index.
func buildPrompt(commercial, reference []Item) string {
	var sb strings.Builder
	sb.WriteString("Commercial listings:\n")
	writeItems(&sb, commercial)
	sb.WriteString("\nReference listings:\n")
	writeItems(&sb, reference)
	sb.WriteString("\nWhich entries are the same product?")
	return sb.String()
}

func writeItems(sb *strings.Builder, items []Item) {
	for _, it := range items {
		fmt.Fprintf(sb, "%d. name=%q brand=%q retailer=%s price=%.2f\n",
			it.Index, it.Name, it.Brand, it.Retailer, it.Price)
	}
}

// ParseMatches extracts the JSON match array from model output. Markdown
// fences and surrounding prose are tolerated; anything that does not
// contain a well-formed array is a ParseError.
func ParseMatches(text string) ([]PairMatch, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil, &ParseError{Err: eris.New("no JSON array in response")}
	}

	var matches []PairMatch
	if err := json.Unmarshal([]byte(text[start:end+1]), &matches); err != nil {
		return nil, &ParseError{Err: err}
	}

	// Drop structurally invalid entries rather than failing the batch.
	valid := matches[:0]
	for _, m := range matches {
		if len(m.Indices) < 2 || m.Confidence < 0 || m.Confidence > 1 {
			continue
		}
		valid = append(valid, m)
	}
	return valid, nil
}
