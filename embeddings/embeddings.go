// Package embeddings converts text into fixed-length vectors via a remote
// embedding endpoint.
package embeddings

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API credential is set. It is a distinct
// failure from a remote API error: no network call is attempted.
var ErrNotConfigured = errors.New("embeddings: api key not configured")

// Embedder converts texts into embedding vectors. The output slice always has
// the same length and order as the input; an empty input yields an empty
// result without a remote call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures an embedder implementation.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int

	// RequestsPerSecond paces remote batch calls. Zero disables pacing.
	RequestsPerSecond float64
}
