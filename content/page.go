// Package content aggregates a site's page tree into the formatted context
// blob handed to the model.
package content

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Per-page character ceilings applied to cleaned content before formatting.
const (
	WordPressPageCap = 15000
	LocalPageCap     = 4000
)

// pageCapMarker is appended when a page's cleaned content hits its ceiling.
const pageCapMarker = " [content truncated]"

// Page is one retrievable unit of site content. Pages are fetched fresh per
// aggregation pass and never mutated; only the aggregate blob is cached.
type Page struct {
	ID        int
	Title     string
	Content   string
	URL       string
	ParentID  int
	SourceID  int
	MenuOrder int
}

// Source produces the pages of one upstream content endpoint.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Page, error)
}

// capContent enforces a character ceiling, marking capped content. The cut
// backs off to a rune start so capped content stays valid UTF-8.
func capContent(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + pageCapMarker
}
