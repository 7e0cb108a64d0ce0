package content

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls atomic.Int32
	pages []Page
	delay time.Duration
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Fetch(ctx context.Context) ([]Page, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.pages, nil
}

func newTestCache(source Source, ttl time.Duration) *Cache {
	agg := NewAggregator([]Source{source}, SiteMeta{Name: "T"}, nil)
	return NewCache(agg, ttl, nil)
}

func TestCacheGetMissThenRefresh(t *testing.T) {
	source := &countingSource{pages: []Page{{ID: 1, Title: "Home", Content: "hi", SourceID: 1}}}
	cache := newTestCache(source, time.Hour)

	if _, ok := cache.Get(); ok {
		t.Fatal("expected miss on empty cache")
	}

	blob, err := cache.GetOrRefresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(blob, "Home") {
		t.Fatalf("blob missing page: %q", blob)
	}

	if _, ok := cache.Get(); !ok {
		t.Fatal("expected hit after refresh")
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	// Subsequent GetOrRefresh serves from cache.
	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("cached read must not refetch, got %d fetches", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	source := &countingSource{pages: []Page{{ID: 1, Title: "Home", SourceID: 1}}}
	cache := newTestCache(source, 10*time.Millisecond)

	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get(); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	source := &countingSource{pages: []Page{{ID: 1, Title: "Home", SourceID: 1}}}
	cache := newTestCache(source, 0)

	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, ok := cache.Get(); !ok {
		t.Fatal("zero ttl must not expire")
	}
}

func TestCacheInvalidate(t *testing.T) {
	source := &countingSource{pages: []Page{{ID: 1, Title: "Home", SourceID: 1}}}
	cache := newTestCache(source, time.Hour)

	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache.Invalidate()
	if _, ok := cache.Get(); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestForceRefreshReportsStats(t *testing.T) {
	source := &countingSource{pages: []Page{
		{ID: 1, Title: "Home", Content: "hello", SourceID: 1},
		{ID: 2, Title: "About", Content: "world", SourceID: 1},
	}}
	cache := newTestCache(source, time.Hour)

	stats, err := cache.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %d", stats.PageCount)
	}
	if stats.SourceCount != 1 {
		t.Fatalf("expected 1 source, got %d", stats.SourceCount)
	}
	if stats.ByteSize == 0 {
		t.Fatal("expected non-zero byte size")
	}
}

func TestForceRefreshZeroPagesFails(t *testing.T) {
	source := &countingSource{}
	cache := newTestCache(source, time.Hour)

	if _, err := cache.ForceRefresh(context.Background()); err == nil {
		t.Fatal("expected error when no pages were retrieved")
	}
}

func TestGetOrRefreshSingleFlight(t *testing.T) {
	source := &countingSource{
		pages: []Page{{ID: 1, Title: "Home", SourceID: 1}},
		delay: 50 * time.Millisecond,
	}
	cache := newTestCache(source, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetOrRefresh(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to share one fetch, got %d", got)
	}
}
