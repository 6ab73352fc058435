// Package encoder turns text into fixed-length normalized embedding vectors.
//
// Two providers are available: a local ONNX MiniLM model (default) and the
// OpenAI embeddings API. The local model is expensive to initialize and is
// shared process-wide; see Local.
package encoder

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when asked to embed an empty string.
var ErrEmptyText = errors.New("encoder: empty text")

// Encoder generates vector embeddings from text. Implementations are safe
// for concurrent use.
type Encoder interface {
	// Embed returns a normalized fixed-length vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the fixed output vector length.
	Dimension() int

	// ModelName identifies the model for embedding provenance rows.
	ModelName() string
}
