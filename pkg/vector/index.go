// Package vector provides the adapter interface and shared types for
// similarity-search backends that store chunk embeddings.
package vector

import (
	"context"
	"sort"
)

// Metadata is the fixed, versioned record duplicated into the index next to
// each vector so queries can filter without touching primary storage. Page
// numbers are 1-based; zero means the chunk has no page.
type Metadata struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	PageNumber int    `json:"page_number,omitempty"`
}

// Item is one vector to upsert. Re-upserting an existing ID replaces its
// vector and metadata atomically from a reader's perspective.
type Item struct {
	// ID is the vector identifier, 1:1 with a successfully embedded chunk.
	ID string

	// Embedding is the vector representation. Its length is constant for
	// the lifetime of one index (the model dimension).
	Embedding []float32

	// Meta is duplicated into the backend for filtering.
	Meta Metadata
}

// QueryResult is one similarity hit, higher Score meaning more similar.
// Drivers normalize scores into [0, 1].
type QueryResult struct {
	ID    string
	Score float32
	Meta  Metadata
}

// Filter restricts query results to chunks owned by the given documents,
// supporting multi-document queries and per-user isolation. A nil or empty
// filter matches everything.
type Filter struct {
	DocumentIDs []string
}

// Matches reports whether m passes the filter.
func (f *Filter) Matches(m Metadata) bool {
	if f == nil || len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == m.DocumentID {
			return true
		}
	}
	return false
}

// Index handles storage and retrieval of vector embeddings.
//
// Backends may be eventually consistent: Upsert returning nil means the
// write was accepted, not that the vector is immediately queryable. Callers
// must not assume read-your-write semantics.
type Index interface {
	// Upsert stores items with overwrite semantics per ID.
	Upsert(ctx context.Context, items []Item) error

	// Query finds the topK most similar items to the given embedding,
	// sorted by descending score with ties broken by ascending ID.
	Query(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]QueryResult, error)

	// Delete removes items by their IDs. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the index.
	Close() error
}

// SortResults orders results by descending score, breaking ties by ascending
// ID so query output is deterministic. Every driver runs its results through
// this before returning them.
func SortResults(results []QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
