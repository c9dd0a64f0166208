// Package memory provides an in-process vector index backed by an exact
// cosine-similarity scan. It is used for local mode and tests; it offers
// read-your-write consistency that real backends do not guarantee.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/knowledgeco/companion/pkg/vector"
)

// Index implements vector.Index with an exact in-memory scan.
type Index struct {
	mu        sync.RWMutex
	items     map[string]vector.Item
	dimension int
}

// NewIndex creates an empty in-memory index. The dimension is fixed by the
// first upserted item.
func NewIndex() *Index {
	return &Index{
		items: make(map[string]vector.Item),
	}
}

// Upsert stores items, replacing any existing entry with the same ID.
func (x *Index) Upsert(_ context.Context, items []vector.Item) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, item := range items {
		if x.dimension == 0 {
			x.dimension = len(item.Embedding)
		}
		if len(item.Embedding) != x.dimension {
			return fmt.Errorf("%w: got %d, index dimension is %d",
				vector.ErrDimensionMismatch, len(item.Embedding), x.dimension)
		}
		// Copy the embedding so callers cannot mutate stored state.
		stored := item
		stored.Embedding = append([]float32(nil), item.Embedding...)
		x.items[item.ID] = stored
	}

	return nil
}

// Query scans all items, scoring by cosine similarity normalized to [0, 1].
func (x *Index) Query(_ context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dimension != 0 && len(embedding) != x.dimension {
		return nil, fmt.Errorf("%w: got %d, index dimension is %d",
			vector.ErrDimensionMismatch, len(embedding), x.dimension)
	}

	var results []vector.QueryResult
	for id, item := range x.items {
		if !filter.Matches(item.Meta) {
			continue
		}
		results = append(results, vector.QueryResult{
			ID: id,
			// Map cosine similarity [-1, 1] onto [0, 1].
			Score: (cosine(embedding, item.Embedding) + 1) / 2,
			Meta:  item.Meta,
		})
	}

	vector.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Delete removes items by ID; unknown IDs are ignored.
func (x *Index) Delete(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		delete(x.items, id)
	}

	return nil
}

// Close is a no-op.
func (x *Index) Close() error {
	return nil
}

// Len returns the number of stored vectors. Used by tests.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// Get returns the stored item for id. Used by tests.
func (x *Index) Get(id string) (vector.Item, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	item, ok := x.items[id]
	return item, ok
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ vector.Index = (*Index)(nil)
