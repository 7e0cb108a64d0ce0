package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/images"
	"github.com/fabfab/sitechat/index"
)

// FullContext serves the whole aggregated site blob, cached and truncated to
// the model's context budget. The question is ignored: every request sees the
// same content.
type FullContext struct {
	cache     *content.Cache
	maxTokens int
}

// NewFullContext builds the full-blob strategy.
func NewFullContext(cache *content.Cache, maxTokens int) *FullContext {
	return &FullContext{cache: cache, maxTokens: maxTokens}
}

func (f *FullContext) Context(ctx context.Context, _ string) (string, error) {
	blob, err := f.cache.GetOrRefresh(ctx)
	if err != nil {
		return "", fmt.Errorf("load site context: %w", err)
	}
	return content.Truncate(blob, f.maxTokens), nil
}

func (f *FullContext) Refresh(ctx context.Context) (content.RefreshStats, error) {
	return f.cache.ForceRefresh(ctx)
}

// SemanticContext retrieves only the chunks most similar to the question.
type SemanticContext struct {
	index      index.Index
	aggregator *content.Aggregator
	topK       int
	maxTokens  int
}

// NewSemanticContext builds the retrieval strategy over a chunk index.
func NewSemanticContext(idx index.Index, aggregator *content.Aggregator, topK, maxTokens int) *SemanticContext {
	return &SemanticContext{index: idx, aggregator: aggregator, topK: topK, maxTokens: maxTokens}
}

func (s *SemanticContext) Context(ctx context.Context, question string) (string, error) {
	hits, err := s.index.Search(ctx, question, s.topK)
	if err != nil {
		return "", fmt.Errorf("search page index: %w", err)
	}
	return content.Truncate(index.FormatHits(hits), s.maxTokens), nil
}

// Refresh re-aggregates the sources and rebuilds the chunk index from the
// fresh pages.
func (s *SemanticContext) Refresh(ctx context.Context) (content.RefreshStats, error) {
	start := time.Now()

	pages, okSources := s.aggregator.FetchAll(ctx)
	if len(pages) == 0 {
		return content.RefreshStats{}, fmt.Errorf("no pages retrieved from any content source")
	}

	if err := s.index.Rebuild(ctx, pages); err != nil {
		return content.RefreshStats{}, fmt.Errorf("rebuild page index: %w", err)
	}

	byteSize := 0
	for _, page := range pages {
		byteSize += len(page.Content)
	}
	return content.RefreshStats{
		PageCount:   len(pages),
		SourceCount: okSources,
		ByteSize:    byteSize,
		Duration:    time.Since(start),
	}, nil
}

// parseUpload accepts the upload body forms the image endpoint supports.
func parseUpload(image string) (string, []byte, error) {
	if !strings.HasPrefix(image, "data:") {
		return "", nil, fmt.Errorf("image must be a base64 data URI")
	}
	return images.ParseDataURI(image)
}
