// Package engine defines the inference boundary of the server: turning text
// into vectors and scoring query/passage pairs. The server owns exactly one
// Engine for its whole lifetime and shares it read-only across requests.
package engine

import (
	"context"
	"errors"
)

// ErrRerankerDisabled is returned by Score when the server was started
// without a reranking model.
var ErrRerankerDisabled = errors.New("no reranking model configured")

// Engine is the capability contract for the loaded models.
//
// Implementations MUST be safe for concurrent calls: the dispatcher invokes
// Encode and Score from many workers against the same handle without any
// external locking. An implementation that is not reentrant has to serialize
// internally.
type Engine interface {
	// Encode returns one vector per input text, position-aligned with texts.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Score rates each passage against the query. The result is
	// position-aligned with passages. Returns ErrRerankerDisabled when no
	// reranking model is loaded.
	Score(ctx context.Context, query string, passages []string) ([]float32, error)

	// Close releases backend resources. Called once during shutdown.
	Close() error
}
