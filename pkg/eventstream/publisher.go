package eventstream

import "context"

// Publisher publishes document status events to an event stream backend.
// Publishing is best-effort from the pipeline's perspective: a failed publish
// never fails the ingestion that triggered it.
type Publisher interface {
	PublishStatus(ctx context.Context, event *StatusChangedEvent) error
	Close() error
}
