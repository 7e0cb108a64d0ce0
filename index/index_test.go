package index

import (
	"context"
	"strings"
	"testing"

	"github.com/fabfab/sitechat/content"
)

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 1}
	}
	return out, nil
}

func TestChunkPagesSequentialIDs(t *testing.T) {
	pages := []content.Page{
		{ID: 10, Title: "A", URL: "u1", Content: strings.Repeat("alpha ", 500)},
		{ID: 20, Title: "B", URL: "u2", Content: "short"},
	}

	chunks := ChunkPages(pages)
	if len(chunks) < 3 {
		t.Fatalf("expected the long page to split, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.ID != i+1 {
			t.Fatalf("chunk ids must be sequential, got %d at %d", chunk.ID, i)
		}
	}
	last := chunks[len(chunks)-1]
	if last.PageID != 20 || last.Text != "short" {
		t.Fatalf("unexpected final chunk: %+v", last)
	}
}

func TestSplitTextOverlaps(t *testing.T) {
	text := strings.Repeat("word ", 600) // 3000 chars
	parts := splitText(text, 1200, 200)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for _, part := range parts {
		if len(part) > 1200 {
			t.Fatalf("part exceeds chunk size: %d", len(part))
		}
	}
	// Overlap: the second part starts inside the first part's tail.
	tail := parts[0][len(parts[0])-50:]
	if !strings.Contains(parts[1][:300], tail[:20]) {
		t.Fatal("expected overlapping chunks")
	}
}

func TestMemoryIndexSearchRanksBySimilarity(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"cats are great":  {1, 0, 0},
		"dogs are loyal":  {0, 1, 0},
		"tell me of cats": {1, 0.1, 0},
	}}

	idx := NewMemoryIndex(embedder, nil)
	pages := []content.Page{
		{ID: 1, Title: "Cats", URL: "https://s/cats", Content: "cats are great"},
		{ID: 2, Title: "Dogs", URL: "https://s/dogs", Content: "dogs are loyal"},
	}
	if err := idx.Rebuild(context.Background(), pages); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	hits, err := idx.Search(context.Background(), "tell me of cats", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Title != "Cats" {
		t.Fatalf("expected Cats to rank first, got %q", hits[0].Title)
	}
}

func TestFormatHits(t *testing.T) {
	hits := []Hit{
		{Chunk: Chunk{Title: "Cats", URL: "https://s/cats", Text: "cats are great"}, Score: 0.9},
	}
	blob := FormatHits(hits)
	for _, want := range []string{"Title: Cats", "URL: https://s/cats", "cats are great"} {
		if !strings.Contains(blob, want) {
			t.Fatalf("blob missing %q:\n%s", want, blob)
		}
	}
}
