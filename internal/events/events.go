// Package events publishes risk events (VaR computed, limit breached, stress
// completed) to Kafka and connected WebSocket clients.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/atmx/risk-engine/internal/metrics"
)

// Type names a risk event.
type Type string

const (
	VaRCalculated   Type = "var.calculated"
	LimitWarning    Type = "limit.warning"
	LimitBreached   Type = "limit.breached"
	StressCompleted Type = "stress.completed"
	BacktestFailed  Type = "backtest.failed"
	PositionBooked  Type = "position.booked"
	PositionClosed  Type = "position.closed"
	EODCompleted    Type = "eod.completed"
)

// Event is one risk event. Payload is encoded as JSON.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	PortfolioID string    `json:"portfolio_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

// New stamps an event with an id and the current time.
func New(typ Type, portfolioID string, payload any) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        typ,
		PortfolioID: portfolioID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink. A failing sink is logged and does not stop
// the others; the joined error is returned only when every sink failed.
type Fanout struct {
	sinks map[string]Publisher
	order []string
	log   *slog.Logger
}

// NewFanout creates an empty fan-out.
func NewFanout(log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{sinks: make(map[string]Publisher), log: log}
}

// Add registers a named sink.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	if _, ok := f.sinks[name]; !ok {
		f.order = append(f.order, name)
	}
	f.sinks[name] = p
	return f
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	if len(f.order) == 0 {
		return nil
	}
	var errs []error
	for _, name := range f.order {
		if err := f.sinks[name].Publish(ctx, ev); err != nil {
			metrics.EventsPublished.WithLabelValues(string(ev.Type), name, "error").Inc()
			f.log.Error("event publish failed", "sink", name, "type", ev.Type, "event_id", ev.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(string(ev.Type), name, "ok").Inc()
	}
	if len(errs) == len(f.order) {
		return errors.Join(errs...)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by portfolio id, so a
// portfolio's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PortfolioID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	})
}

// Close shuts down the Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
