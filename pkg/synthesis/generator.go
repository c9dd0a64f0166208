// Package synthesis defines the answer generator interface used by the query
// pipeline to turn retrieved passages into a grounded natural-language answer.
package synthesis

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the generation backend cannot be reached.
	// Retrieval results are still usable when this is returned.
	ErrUnavailable = errors.New("synthesis backend unavailable")

	// ErrGeneration indicates the backend rejected the request.
	ErrGeneration = errors.New("answer generation failed")
)

// Passage is one retrieved excerpt handed to the generator, in relevance
// order. PageNumber is 1-based; zero means the source has no pages.
type Passage struct {
	DocumentID string
	PageNumber int
	Text       string
}

// Generator produces an answer to a question grounded in the given passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []Passage) (string, error)
	Close() error
}
