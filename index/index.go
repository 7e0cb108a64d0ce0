// Package index provides semantic retrieval over page content: pages are
// chunked, embedded, and ranked against the question at query time.
package index

import (
	"context"
	"strings"

	"github.com/fabfab/sitechat/content"
)

const (
	defaultChunkSize    = 1200
	defaultChunkOverlap = 200
)

// Chunk is one embeddable slice of a page, carrying enough page metadata to
// cite the page in the assembled context.
type Chunk struct {
	ID     int
	PageID int
	Title  string
	URL    string
	Text   string
}

// Hit is a chunk ranked against a query.
type Hit struct {
	Chunk
	Score float64
}

// Index stores page chunks with their embeddings and answers top-K queries.
type Index interface {
	Rebuild(ctx context.Context, pages []content.Page) error
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

// ChunkPages slices every page's content into overlapping chunks at word
// boundaries. Chunk ids are sequential across the whole pass.
func ChunkPages(pages []content.Page) []Chunk {
	var chunks []Chunk
	nextID := 1

	for _, page := range pages {
		for _, text := range splitText(page.Content, defaultChunkSize, defaultChunkOverlap) {
			chunks = append(chunks, Chunk{
				ID:     nextID,
				PageID: page.ID,
				Title:  page.Title,
				URL:    page.URL,
				Text:   text,
			})
			nextID++
		}
	}

	return chunks
}

func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			parts = append(parts, strings.TrimSpace(text[start:]))
			break
		}

		// Cut back to the last space so words stay whole.
		cut := strings.LastIndexByte(text[start:end], ' ')
		if cut <= 0 {
			cut = size
		}
		parts = append(parts, strings.TrimSpace(text[start:start+cut]))

		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}

	return parts
}

// FormatHits renders ranked chunks into a context blob in the aggregate
// blob's record style, best match first.
func FormatHits(hits []Hit) string {
	var sb strings.Builder
	for _, hit := range hits {
		sb.WriteString("Title: " + hit.Title + "\n")
		sb.WriteString("URL: " + hit.URL + "\n\n")
		sb.WriteString(hit.Text)
		sb.WriteString("\n--------------------------------------------------\n")
	}
	return strings.TrimSpace(sb.String())
}
