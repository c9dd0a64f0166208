package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/synthesis"
)

// GeneratorCall records one Generate invocation.
type GeneratorCall struct {
	Question string
	Passages []synthesis.Passage
}

// MockGenerator is a test answer generator with a canned answer.
type MockGenerator struct {
	mu sync.Mutex

	// Answer is returned by Generate. Defaults to "mock answer".
	Answer string

	// Err, when set, fails every call.
	Err error

	// TransientFailures makes the first N calls fail with a retryable
	// error before succeeding.
	TransientFailures int

	// Calls records every invocation.
	Calls []GeneratorCall
}

// NewMockGenerator creates a mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Answer: "mock answer"}
}

func (m *MockGenerator) Generate(_ context.Context, question string, passages []synthesis.Passage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, GeneratorCall{Question: question, Passages: passages})

	if m.TransientFailures > 0 {
		m.TransientFailures--
		return "", fmt.Errorf("%w: %w: mock transient generation failure",
			faults.ErrTransient, synthesis.ErrUnavailable)
	}
	if m.Err != nil {
		return "", m.Err
	}

	return m.Answer, nil
}

func (m *MockGenerator) Close() error {
	return nil
}

var _ synthesis.Generator = (*MockGenerator)(nil)
