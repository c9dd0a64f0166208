package vector

import "errors"

var (
	// ErrNotFound is returned when a vector is not found in the index.
	ErrNotFound = errors.New("vector not found")

	// ErrDimensionMismatch is returned when an embedding's length does not
	// match the index dimension. Shape errors are never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConnection is returned when the index backend connection fails.
	ErrConnection = errors.New("vector index connection failed")
)
