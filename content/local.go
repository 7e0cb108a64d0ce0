package content

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// LocalSource reads pages from a directory of markdown, plain-text, HTML and
// PDF files. Files are walked in lexical order; the per-page content ceiling
// is the tighter local-index cap.
type LocalSource struct {
	dir      string
	sourceID int
	logger   *zap.Logger
}

var (
	markdownHeading = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	htmlTitle       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// NewLocalSource builds a source over the given directory.
func NewLocalSource(dir string, sourceID int, logger *zap.Logger) *LocalSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSource{dir: dir, sourceID: sourceID, logger: logger}
}

func (s *LocalSource) Name() string {
	return s.dir
}

// Fetch walks the directory and converts each supported file into a page.
// Files that fail to parse are skipped with a log line; the walk itself
// failing is fatal for this source.
func (s *LocalSource) Fetch(ctx context.Context) ([]Page, error) {
	var pages []Page
	nextID := 1

	err := filepath.WalkDir(s.dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		title, text, err := parseFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		pages = append(pages, Page{
			ID:        nextID,
			Title:     title,
			Content:   capContent(text, LocalPageCap),
			URL:       "file://" + path,
			SourceID:  s.sourceID,
			MenuOrder: nextID,
		})
		nextID++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.dir, err)
	}

	return pages, nil
}

func parseFile(path string) (title, text string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return parseMarkdownFile(path)
	case ".txt":
		return parseTextFile(path)
	case ".html", ".htm":
		return parseHTMLFile(path)
	case ".pdf":
		return parsePDFFile(path)
	default:
		return "", "", fmt.Errorf("unsupported file type %s", filepath.Ext(path))
	}
}

func parseMarkdownFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	content := string(data)
	title := fileTitle(path)
	if m := markdownHeading.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}
	return title, strings.TrimSpace(content), nil
}

func parseTextFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	content := strings.TrimSpace(string(data))
	title := fileTitle(path)
	if line := firstLine(content); line != "" {
		title = line
	}
	return title, content, nil
}

func parseHTMLFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	raw := string(data)
	title := fileTitle(path)
	if m := htmlTitle.FindStringSubmatch(raw); m != nil {
		if t := strings.TrimSpace(CleanHTML(m[1])); t != "" {
			title = t
		}
	}
	return title, CleanHTML(raw), nil
}

func parsePDFFile(path string) (string, string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", "", fmt.Errorf("extract pdf text: %w", err)
	}

	data, err := io.ReadAll(plain)
	if err != nil {
		return "", "", fmt.Errorf("read pdf text: %w", err)
	}

	content := strings.TrimSpace(string(data))
	title := fileTitle(path)
	if line := firstLine(content); line != "" {
		title = line
	}
	return title, content, nil
}

func fileTitle(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.ReplaceAll(name, "_", " ")
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
