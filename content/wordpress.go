package content

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	wpPageSize    = 100
	wpFetchFields = "id,title,content,link,parent,slug,menu_order"
)

// WordPressSource reads published pages from a WordPress REST API base URL
// (".../wp-json/wp/v2"), following pagination until the reported page total
// is exhausted.
type WordPressSource struct {
	baseURL  string
	sourceID int
	http     *http.Client
	logger   *zap.Logger
}

type wpRendered struct {
	Rendered string `json:"rendered"`
}

type wpPage struct {
	ID        int        `json:"id"`
	Title     wpRendered `json:"title"`
	Content   wpRendered `json:"content"`
	Link      string     `json:"link"`
	Parent    int        `json:"parent"`
	MenuOrder int        `json:"menu_order"`
}

// NewWordPressSource builds a source for one WordPress REST endpoint.
// sourceID distinguishes pages during multi-source aggregation.
func NewWordPressSource(baseURL string, sourceID int, logger *zap.Logger) *WordPressSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WordPressSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sourceID: sourceID,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (s *WordPressSource) Name() string {
	return s.baseURL
}

// Fetch pages through the paginated listing endpoint, menu order ascending.
func (s *WordPressSource) Fetch(ctx context.Context) ([]Page, error) {
	var pages []Page

	for pageNum := 1; ; pageNum++ {
		batch, totalPages, err := s.fetchPage(ctx, pageNum)
		if err != nil {
			return nil, err
		}
		pages = append(pages, batch...)

		if pageNum >= totalPages {
			break
		}
	}

	s.logger.Debug("fetched wordpress pages",
		zap.String("source", s.baseURL),
		zap.Int("pages", len(pages)))
	return pages, nil
}

func (s *WordPressSource) fetchPage(ctx context.Context, pageNum int) ([]Page, int, error) {
	url := fmt.Sprintf("%s/pages?per_page=%d&page=%d&status=publish&orderby=menu_order&order=asc&_fields=%s",
		s.baseURL, wpPageSize, pageNum, wpFetchFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create pages request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call pages API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("pages API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed []wpPage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("decode pages response: %w", err)
	}

	totalPages := 1
	if header := resp.Header.Get("x-wp-totalpages"); header != "" {
		if n, convErr := strconv.Atoi(header); convErr == nil && n > 0 {
			totalPages = n
		}
	}

	pages := make([]Page, 0, len(parsed))
	for _, wp := range parsed {
		pages = append(pages, Page{
			ID:        wp.ID,
			Title:     html.UnescapeString(wp.Title.Rendered),
			Content:   capContent(CleanHTML(wp.Content.Rendered), WordPressPageCap),
			URL:       wp.Link,
			ParentID:  wp.Parent,
			SourceID:  s.sourceID,
			MenuOrder: wp.MenuOrder,
		})
	}

	return pages, totalPages, nil
}
