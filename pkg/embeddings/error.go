package embeddings

import "errors"

var (
	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrTooLong fails a slot whose text exceeds the maximum sequence
	// length while truncation is disabled by configuration. With truncation
	// enabled the slot is embedded anyway and flagged via Result.Truncated.
	ErrTooLong = errors.New("input exceeds maximum sequence length")
)
