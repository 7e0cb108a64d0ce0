package index

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/embeddings"
	"github.com/fabfab/sitechat/similarity"
)

// MemoryIndex holds chunk embeddings in process memory and ranks them with
// the similarity engine. Suitable for small page trees and tests; the
// Postgres index is the durable variant.
type MemoryIndex struct {
	embedder embeddings.Embedder
	logger   *zap.Logger

	mu         sync.RWMutex
	chunks     map[int]Chunk
	candidates []similarity.Candidate
}

// NewMemoryIndex builds an empty in-memory index.
func NewMemoryIndex(embedder embeddings.Embedder, logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		embedder: embedder,
		logger:   logger,
		chunks:   map[int]Chunk{},
	}
}

// Rebuild replaces the index content with freshly chunked and embedded pages.
func (m *MemoryIndex) Rebuild(ctx context.Context, pages []content.Page) error {
	chunks := ChunkPages(pages)

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	byID := make(map[int]Chunk, len(chunks))
	candidates := make([]similarity.Candidate, len(chunks))
	for i, chunk := range chunks {
		byID[chunk.ID] = chunk
		candidates[i] = similarity.Candidate{ID: chunk.ID, Vector: vectors[i]}
	}

	m.mu.Lock()
	m.chunks = byID
	m.candidates = candidates
	m.mu.Unlock()

	m.logger.Info("memory index rebuilt", zap.Int("chunks", len(chunks)))
	return nil
}

// Search embeds the query and returns the topK most similar chunks.
func (m *MemoryIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	vector, err := embeddings.EmbedOne(ctx, m.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	m.mu.RLock()
	matches := similarity.FindMostSimilar(vector, m.candidates, topK)
	hits := make([]Hit, 0, len(matches))
	for _, match := range matches {
		chunk, ok := m.chunks[match.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Score: match.Score})
	}
	m.mu.RUnlock()

	return hits, nil
}

var _ Index = (*MemoryIndex)(nil)
