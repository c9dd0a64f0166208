package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/knowledgeco/companion/pkg/document"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeStatusChanged is emitted on every document status transition.
	EventTypeStatusChanged = "companion.document.status_changed"
)

// StatusChangedEvent is a transport-neutral event payload describing one
// document status transition. Consumers must tolerate unknown fields within
// the same schema version.
type StatusChangedEvent struct {
	SchemaVersion int                       `json:"schema_version"`
	EventType     string                    `json:"event_type"`
	EventID       string                    `json:"event_id"`
	EmittedAt     time.Time                 `json:"emitted_at"`
	DocumentID    string                    `json:"document_id"`
	OldStatus     document.ProcessingStatus `json:"old_status"`
	NewStatus     document.ProcessingStatus `json:"new_status"`

	// Reason carries the failure reason on transitions into failed and is
	// empty otherwise.
	Reason string `json:"reason,omitempty"`
}

// NewStatusChanged builds a status transition event with a fresh event ID.
func NewStatusChanged(documentID string, oldStatus, newStatus document.ProcessingStatus, reason string) *StatusChangedEvent {
	return &StatusChangedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeStatusChanged,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		DocumentID:    documentID,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		Reason:        reason,
	}
}
