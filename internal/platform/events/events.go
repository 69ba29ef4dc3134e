// Package events publishes post-commit domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Event types.
const (
	TypeStockMovement    = "stock.movement"
	TypeOutboundBatch    = "outbound.batch"
	TypeArrivalConfirmed = "transfer.arrival_confirmed"
)

// Event is the envelope written to the movements topic.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an envelope with a fresh id.
func NewEvent(eventType, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Publisher delivers events. Callers publish only after their transaction
// committed and treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by Event.Key, so all
// movements of one (variant, warehouse) pair land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// KafkaConfig configures the writer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaPublisher builds a publisher backed by kafka-go.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka brokers and topic required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(writer, logger), nil
}

func newKafkaPublisher(writer messageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if p == nil || len(evts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, evt := range evts {
		value, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("events: marshal envelope: %w", err)
		}
		carrier := headerCarrier{{Key: "event-type", Value: []byte(evt.Type)}}
		otel.GetTextMapPropagator().Inject(ctx, &carrier)
		msgs = append(msgs, kafka.Message{
			Key:     []byte(evt.Key),
			Value:   value,
			Headers: carrier,
			Time:    evt.OccurredAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// headerCarrier adapts kafka headers to the otel TextMapCarrier interface.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
