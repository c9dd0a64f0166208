package testutils

import (
	"context"
	"sync"

	"github.com/knowledgeco/companion/pkg/eventstream"
)

// MockPublisher records published status events.
type MockPublisher struct {
	mu sync.Mutex

	// Events accumulates all published events in order.
	Events []*eventstream.StatusChangedEvent

	// Err, when set, fails every publish.
	Err error
}

// NewMockPublisher creates an empty recording publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishStatus(_ context.Context, event *eventstream.StatusChangedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)

	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Transitions returns the new statuses of all recorded events, in order.
func (m *MockPublisher) Transitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = string(e.NewStatus)
	}
	return out
}

var _ eventstream.Publisher = (*MockPublisher)(nil)
