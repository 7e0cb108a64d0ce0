package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// maxBatchSize is the provider's limit on inputs per embeddings call.
	maxBatchSize = 2048
	// maxTextLength is the hard per-text cap, in characters, applied before
	// sending.
	maxTextLength = 32000

	requestTimeout = 120 * time.Second
)

var whitespaceRun = regexp.MustCompile(`\s+`)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewOpenAIEmbedder builds an Embedder backed by an OpenAI-compatible
// embeddings endpoint. It fails fast with ErrNotConfigured when no key is set.
func NewOpenAIEmbedder(opts Options) (Embedder, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: requestTimeout}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
		limiter:   limiter,
	}, nil
}

// Embed preprocesses each text, sends the set in batches of at most 2048, and
// returns vectors aligned to the input order. Remote batch responses are
// re-sorted by their reported index first: the provider does not guarantee
// submission order.
func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = preprocess(text)
	}

	results := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(prepared) {
			end = len(prepared)
		}

		vectors, err := e.embedBatch(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	return results, nil
}

func (e *openAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embeddings response has %d items for %d inputs", len(resp.Data), len(batch))
	}

	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(batch))
	for i, datum := range resp.Data {
		if datum.Index != i {
			return nil, fmt.Errorf("embeddings response index %d out of range", datum.Index)
		}
		if e.dimension > 0 && len(datum.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding))
		}
		vectors[i] = datum.Embedding
	}

	return vectors, nil
}

// EmbedOne embeds a single text through the given embedder.
func EmbedOne(ctx context.Context, embedder Embedder, text string) ([]float32, error) {
	vectors, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

// preprocess collapses whitespace, trims, and hard-truncates to the per-text
// character cap. The cap counts runes, not bytes, so multibyte text keeps its
// full allowance and is never cut mid-rune.
func preprocess(text string) string {
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if len(text) > maxTextLength {
		if runes := []rune(text); len(runes) > maxTextLength {
			text = string(runes[:maxTextLength])
		}
	}
	return text
}
