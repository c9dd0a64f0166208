package testutils

import (
	"context"

	"github.com/knowledgeco/companion/pkg/extract"
)

// MockExtractor returns a fixed extraction result or error.
type MockExtractor struct {
	Result *extract.Result
	Err    error
}

// NewMockExtractor creates a mock extractor returning the given result.
func NewMockExtractor(result *extract.Result) *MockExtractor {
	return &MockExtractor{Result: result}
}

func (m *MockExtractor) Extract(_ context.Context, _ []byte) (*extract.Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

var _ extract.Extractor = (*MockExtractor)(nil)
