package content

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ruleLine separates page records inside the formatted context blob.
const ruleLine = "--------------------------------------------------"

// SiteMeta heads the formatted context blob.
type SiteMeta struct {
	Name    string
	Tagline string
	URL     string
}

// Aggregator fetches pages from every configured source and formats them into
// one context blob.
type Aggregator struct {
	sources []Source
	site    SiteMeta
	logger  *zap.Logger
}

// NewAggregator builds an aggregator over the given sources.
func NewAggregator(sources []Source, site SiteMeta, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{sources: sources, site: site, logger: logger}
}

// FetchAll collects pages from every source. A failing source is logged and
// skipped so the remaining sources still contribute; the second return value
// counts the sources that succeeded.
func (a *Aggregator) FetchAll(ctx context.Context) ([]Page, int) {
	var pages []Page
	okSources := 0

	for _, source := range a.sources {
		fetched, err := source.Fetch(ctx)
		if err != nil {
			a.logger.Warn("content source failed, skipping",
				zap.String("source", source.Name()),
				zap.Error(err))
			continue
		}
		pages = append(pages, fetched...)
		okSources++
	}

	return pages, okSources
}

// FormatContext renders pages into the context blob: site metadata, a
// navigation outline, then one record per page with title, breadcrumb,
// parent, URL and cleaned content. Order is deterministic: source order,
// then menu order.
func (a *Aggregator) FormatContext(pages []Page) string {
	ordered := make([]Page, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SourceID != ordered[j].SourceID {
			return ordered[i].SourceID < ordered[j].SourceID
		}
		return ordered[i].MenuOrder < ordered[j].MenuOrder
	})

	byID := pagesByID(ordered)

	var sb strings.Builder
	if a.site.Name != "" {
		sb.WriteString("Site: " + a.site.Name)
		if a.site.Tagline != "" {
			sb.WriteString(" - " + a.site.Tagline)
		}
		sb.WriteString("\n")
	}
	if a.site.URL != "" {
		sb.WriteString("Site URL: " + a.site.URL + "\n")
	}

	if len(ordered) > 0 {
		sb.WriteString("Navigation:\n")
		for _, page := range ordered {
			depth := len(breadcrumb(page, byID)) - 1
			sb.WriteString(strings.Repeat("  ", depth) + "- " + page.Title + "\n")
		}
		sb.WriteString("\n")
	}

	for _, page := range ordered {
		sb.WriteString("Title: " + page.Title + "\n")

		if chain := breadcrumb(page, byID); len(chain) > 1 {
			sb.WriteString("Breadcrumb: " + strings.Join(chain, " > ") + "\n")
		}
		if parent, ok := byID[parentKey{page.SourceID, page.ParentID}]; ok && page.ParentID != 0 {
			sb.WriteString("Parent: " + parent.Title + "\n")
		}
		sb.WriteString("URL: " + page.URL + "\n\n")
		sb.WriteString(page.Content)
		sb.WriteString("\n" + ruleLine + "\n")
	}

	return strings.TrimSpace(sb.String())
}

// parentKey scopes page ids to their source: ids are only unique upstream.
type parentKey struct {
	sourceID int
	pageID   int
}

func pagesByID(pages []Page) map[parentKey]Page {
	byID := make(map[parentKey]Page, len(pages))
	for _, page := range pages {
		byID[parentKey{page.SourceID, page.ID}] = page
	}
	return byID
}

// breadcrumb returns the ancestor-to-page title chain. Visited ids are
// tracked so a cyclic parent graph terminates with a best-effort partial
// chain.
func breadcrumb(page Page, byID map[parentKey]Page) []string {
	chain := []string{page.Title}
	visited := map[int]bool{page.ID: true}

	current := page
	for current.ParentID != 0 {
		parent, ok := byID[parentKey{current.SourceID, current.ParentID}]
		if !ok || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		chain = append([]string{parent.Title}, chain...)
		current = parent
	}

	return chain
}
