// Package events streams issue lifecycle events to Kafka for downstream
// consumers (reporting, SLA tracking). Records are keyed by issue id so one
// issue's events stay ordered within a partition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"troubledesk/internal/helpdesk/models"
)

// DefaultTopic is where lifecycle events land unless configured otherwise.
const DefaultTopic = "helpdesk.issue-events"

// KafkaPublisher implements ports.EventPublisher over a franz-go client.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the brokers and returns a publisher.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// envelope is the record value.
type envelope struct {
	Event     models.Event   `json:"event"`
	IssueID   string         `json:"issue_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Publish produces one event record asynchronously. Broker errors surface
// through the produce callback as warnings only; lifecycle transitions
// never block on the stream.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.Event, issueID string, payload map[string]any) error {
	value, err := json.Marshal(envelope{
		Event:     event,
		IssueID:   issueID,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(issueID),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Warn("event record not delivered",
				"event", string(event), "issue_id", issueID, "error", err)
		}
	})
	return nil
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	defer p.client.Close()
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return nil
}
