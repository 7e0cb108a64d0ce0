// Package images stores user uploads on disk with metadata rows in Postgres,
// normalises them for model calls and expires them after a retention window.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

const (
	// MaxBytes caps the accepted upload size.
	MaxBytes = 5 << 20
	// MaxEdge is the longest side an image keeps after normalisation.
	MaxEdge = 1920
	// Retention is how long an upload stays available.
	Retention = 24 * time.Hour
)

var (
	ErrUnsupportedType = errors.New("images: unsupported image type")
	ErrTooLarge        = fmt.Errorf("images: upload exceeds %d bytes", MaxBytes)
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Meta describes one stored upload.
type Meta struct {
	ID        uuid.UUID
	OwnerID   string
	Path      string
	URL       string
	MimeType  string
	ExpiresAt time.Time
}

// Store writes image files under a data directory and tracks them in the
// images table.
type Store struct {
	pool    *pgxpool.Pool
	dir     string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewStore builds a store rooted at dir. baseURL prefixes the public URL of
// each upload, e.g. "/api/v1/images".
func NewStore(pool *pgxpool.Pool, dir, baseURL string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Save validates, normalises and persists one upload for ownerID.
func (s *Store) Save(ctx context.Context, ownerID string, data []byte, mimeType string) (Meta, error) {
	if len(data) > MaxBytes {
		return Meta{}, ErrTooLarge
	}
	ext, ok := extensions[mimeType]
	if !ok {
		return Meta{}, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	normalised, err := Normalise(data, mimeType)
	if err != nil {
		return Meta{}, fmt.Errorf("normalise image: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("create image directory: %w", err)
	}

	meta := Meta{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		MimeType:  mimeType,
		ExpiresAt: time.Now().Add(Retention),
	}
	meta.Path = filepath.Join(s.dir, meta.ID.String()+ext)
	meta.URL = s.baseURL + "/" + meta.ID.String()

	if err := os.WriteFile(meta.Path, normalised, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write image file: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO images (id, owner_id, path, url, mime_type, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, meta.ID, meta.OwnerID, meta.Path, meta.URL, meta.MimeType, meta.ExpiresAt)
	if err != nil {
		os.Remove(meta.Path)
		return Meta{}, fmt.Errorf("insert image row: %w", err)
	}

	s.logger.Info("image stored",
		zap.String("id", meta.ID.String()),
		zap.String("mime", meta.MimeType),
		zap.Int("bytes", len(normalised)))
	return meta, nil
}

// Get returns the metadata of one owned upload. Expired uploads behave as
// absent even before the sweeper removes them.
func (s *Store) Get(ctx context.Context, id uuid.UUID, ownerID string) (Meta, error) {
	var meta Meta
	row := s.pool.QueryRow(ctx, `
        SELECT id, owner_id, path, url, mime_type, expires_at
        FROM images
        WHERE id = $1 AND owner_id = $2 AND expires_at > NOW()
    `, id, ownerID)

	err := row.Scan(&meta.ID, &meta.OwnerID, &meta.Path, &meta.URL, &meta.MimeType, &meta.ExpiresAt)
	if err != nil {
		return Meta{}, fmt.Errorf("select image: %w", err)
	}
	return meta, nil
}

// Inline reads a stored file back as a data URI for a model call.
func (m Meta) Inline() (string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return "", fmt.Errorf("read image file: %w", err)
	}
	return EncodeDataURI(m.MimeType, data), nil
}

// FetchRemote downloads an image URL and inlines it as a data URI so the
// provider never has to reach back into the caller's network.
func (s *Store) FetchRemote(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image body: %w", err)
	}
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if _, ok := extensions[mimeType]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	return EncodeDataURI(mimeType, data), nil
}

// Sweep deletes expired rows and their files, returning how many were
// removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
        DELETE FROM images WHERE expires_at <= NOW() RETURNING path
    `)
	if err != nil {
		return 0, fmt.Errorf("delete expired images: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, fmt.Errorf("scan expired image: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove expired image file",
				zap.String("path", path), zap.Error(err))
		}
	}
	return len(paths), nil
}

// RunSweeper sweeps on the given interval until the context is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("image sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("expired images removed", zap.Int("count", removed))
			}
		}
	}
}

// ParseDataURI splits a "data:<mime>;base64,<payload>" string into its MIME
// type and decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("images: not a data URI")
	}
	mimeType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("images: data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mimeType, data, nil
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Normalise downscales oversized JPEG and PNG images so no edge exceeds
// MaxEdge. GIF and WebP pass through untouched: re-encoding would drop
// animation frames, and there is no WebP encoder available.
func Normalise(data []byte, mimeType string) ([]byte, error) {
	switch mimeType {
	case "image/jpeg", "image/png":
	case "image/gif", "image/webp":
		if _, err := decodeImage(data, mimeType); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	img, err := decodeImage(data, mimeType)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() <= MaxEdge && bounds.Dy() <= MaxEdge {
		return data, nil
	}

	resized := Resize(img, MaxEdge)

	var buf bytes.Buffer
	switch mimeType {
	case "image/jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
	case "image/png":
		err = png.Encode(&buf, resized)
	}
	if err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales img so its longest edge equals maxEdge, preserving aspect
// ratio.
func Resize(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width >= height {
		height = height * maxEdge / width
		width = maxEdge
	} else {
		width = width * maxEdge / height
		height = maxEdge
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch mimeType {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/gif":
		img, err = gif.Decode(bytes.NewReader(data))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mimeType, err)
	}
	return img, nil
}
