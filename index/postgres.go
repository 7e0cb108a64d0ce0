package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/embeddings"
)

// PostgresIndex persists chunk embeddings in a pgvector column and ranks by
// vector distance in the database.
type PostgresIndex struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewPostgresIndex builds an index over the page_chunks table.
func NewPostgresIndex(pool *pgxpool.Pool, embedder embeddings.Embedder, logger *zap.Logger) *PostgresIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresIndex{pool: pool, embedder: embedder, logger: logger}
}

// Rebuild replaces all stored chunks in one transaction so readers never see
// a half-built index.
func (p *PostgresIndex) Rebuild(ctx context.Context, pages []content.Page) error {
	chunks := ChunkPages(pages)

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM page_chunks"); err != nil {
		return fmt.Errorf("clear page chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(`
            INSERT INTO page_chunks (chunk_id, page_id, title, url, content, embedding)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, chunk.ID, chunk.PageID, chunk.Title, chunk.URL, chunk.Text, pgvector.NewVector(vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert page chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}

	p.logger.Info("postgres index rebuilt", zap.Int("chunks", len(chunks)))
	return nil
}

// Search embeds the query and returns the topK nearest chunks by vector
// distance, closest first.
func (p *PostgresIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := embeddings.EmbedOne(ctx, p.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
        SELECT chunk_id, page_id, title, url, content,
               (embedding <-> $1::vector) AS distance
        FROM page_chunks
        ORDER BY embedding <-> $1::vector
        LIMIT $2
    `, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var distance float64
		if err := rows.Scan(&hit.ID, &hit.PageID, &hit.Title, &hit.URL, &hit.Text, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		hit.Score = 1 / (1 + distance)
		hits = append(hits, hit)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return hits, nil
}

var _ Index = (*PostgresIndex)(nil)
