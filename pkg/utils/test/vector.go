package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/knowledgeco/companion/pkg/vector"
)

// MockIndex is a test vector index that records calls and supports injected
// failures. Query returns whatever Results holds, filtered and trimmed.
type MockIndex struct {
	mu sync.Mutex

	// Items accumulates all upserted items by ID.
	Items map[string]vector.Item

	// UpsertBatches records each Upsert call's items in order.
	UpsertBatches [][]vector.Item

	// Results is returned by Query after filtering.
	Results []vector.QueryResult

	// QueryCalls counts Query invocations.
	QueryCalls int

	// FailUpsert makes every Upsert fail.
	FailUpsert error

	// FailQuery makes every Query fail.
	FailQuery error

	// Deleted accumulates all deleted IDs.
	Deleted []string
}

// NewMockIndex creates an empty mock index.
func NewMockIndex() *MockIndex {
	return &MockIndex{
		Items: make(map[string]vector.Item),
	}
}

func (m *MockIndex) Upsert(_ context.Context, items []vector.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpsert != nil {
		return m.FailUpsert
	}

	batch := make([]vector.Item, len(items))
	copy(batch, items)
	m.UpsertBatches = append(m.UpsertBatches, batch)
	for _, item := range items {
		m.Items[item.ID] = item
	}

	return nil
}

func (m *MockIndex) Query(_ context.Context, _ []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.QueryCalls++
	if m.FailQuery != nil {
		return nil, m.FailQuery
	}

	var results []vector.QueryResult
	for _, r := range m.Results {
		if filter.Matches(r.Meta) {
			results = append(results, r)
		}
	}

	vector.SortResults(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (m *MockIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Deleted = append(m.Deleted, ids...)
	for _, id := range ids {
		delete(m.Items, id)
	}

	return nil
}

func (m *MockIndex) Close() error {
	return nil
}

// Len returns the number of stored items.
func (m *MockIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Items)
}

// String summarizes state for failure messages.
func (m *MockIndex) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("MockIndex{items: %d, batches: %d}", len(m.Items), len(m.UpsertBatches))
}

var _ vector.Index = (*MockIndex)(nil)
