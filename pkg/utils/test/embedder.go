package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/knowledgeco/companion/pkg/faults"
)

// MockEmbedder is a test embedder that returns deterministic embeddings
// derived from the input text.
type MockEmbedder struct {
	mu sync.Mutex

	// Dimensions is the length of generated vectors. Defaults to 4.
	Dimensions int

	// Embeddings overrides the generated vector for specific texts.
	Embeddings map[string][]float32

	// FailOn causes any batch containing this text to fail.
	FailOn string

	// FailAll causes every call to fail.
	FailAll bool

	// TransientFailures makes the first N calls fail with a retryable
	// error before succeeding.
	TransientFailures int

	// BatchSizes records the size of every EmbedBatch call.
	BatchSizes []int

	// Calls counts all backend calls, including failed ones.
	Calls int

	// Started, when non-nil, receives one (non-blocking) send per
	// EmbedBatch call before the call does any work.
	Started chan struct{}

	// Gate, when non-nil, blocks every EmbedBatch call until the channel
	// is closed. Lets tests hold a call in flight.
	Gate chan struct{}
}

// NewMockEmbedder creates a mock embedder with default dimensions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Dimensions: 4,
		Embeddings: make(map[string][]float32),
	}
}

// Embed returns the deterministic embedding for one text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns deterministic embeddings positionally.
func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.Started != nil {
		select {
		case m.Started <- struct{}{}:
		default:
		}
	}
	if m.Gate != nil {
		<-m.Gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.BatchSizes = append(m.BatchSizes, len(texts))

	if m.FailAll {
		return nil, fmt.Errorf("mock embedder configured to fail")
	}
	if m.TransientFailures > 0 {
		m.TransientFailures--
		return nil, fmt.Errorf("%w: mock transient embedding failure", faults.ErrTransient)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if m.FailOn != "" && text == m.FailOn {
			return nil, fmt.Errorf("mock embedding failure for: %s", text)
		}
		if emb, ok := m.Embeddings[text]; ok {
			vectors[i] = emb
			continue
		}
		vectors[i] = m.generate(text)
	}

	return vectors, nil
}

// generate derives a stable pseudo-embedding from the text so identical
// inputs always map to identical vectors.
func (m *MockEmbedder) generate(text string) []float32 {
	dims := m.Dimensions
	if dims <= 0 {
		dims = 4
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000) / 1000
	}
	return vec
}

// Close is a no-op.
func (m *MockEmbedder) Close() error {
	return nil
}
