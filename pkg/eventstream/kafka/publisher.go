// Package kafka publishes document status events to a Kafka topic. Events
// are keyed by document ID so per-document ordering is preserved within a
// partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/eventstream"
	"github.com/knowledgeco/companion/pkg/faults"
)

// Config holds Kafka connection settings for the status event publisher.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds each produce call. Defaults to 10 seconds.
	WriteTimeout time.Duration
}

// Publisher implements eventstream.Publisher on a kafka-go writer.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed status event publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Publisher{
		writer: writer,
		logger: logger,
	}, nil
}

// PublishStatus produces one event message keyed by document ID.
func (p *Publisher) PublishStatus(ctx context.Context, event *eventstream.StatusChangedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling status event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DocumentID),
		Value: value,
		Time:  event.EmittedAt,
	})
	if err != nil {
		return fmt.Errorf("%w: writing status event to kafka: %v", faults.ErrTransient, err)
	}

	p.logger.Debug("published status event",
		zap.String("event_id", event.EventID),
		zap.String("document_id", event.DocumentID),
		zap.String("new_status", string(event.NewStatus)),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
