// Package events publishes order facts for downstream consumers. Events are
// emitted after the transaction that produced them commits; a failed publish
// never undoes an order.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/safar/souk/internal/models"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	TypeOrderCreated    = "order.created"
	TypeStatusChanged   = "order.status_changed"
	TypeReturnRequested = "order.return_requested"
)

type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        int64           `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	BatchKey       string          `json:"batch_key"`
	UserID         int64           `json:"user_id"`
	ShopID         int64           `json:"shop_id"`
	Status         string          `json:"status"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ReturnReason   string          `json:"return_reason,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func newEvent(typ string, o models.Order) OrderEvent {
	return OrderEvent{
		Type:         typ,
		OrderID:      o.ID,
		OrderNumber:  o.OrderNumber,
		BatchKey:     o.BatchKey,
		UserID:       o.UserID,
		ShopID:       o.ShopID,
		Status:       o.Status,
		TotalAmount:  o.TotalAmount,
		ReturnReason: o.ReturnReason,
		OccurredAt:   o.UpdatedAt,
	}
}

func OrderCreated(o models.Order) OrderEvent {
	return newEvent(TypeOrderCreated, o)
}

func StatusChanged(o models.Order, previous string) OrderEvent {
	e := newEvent(TypeStatusChanged, o)
	e.PreviousStatus = previous
	return e
}

func ReturnRequested(o models.Order) OrderEvent {
	return newEvent(TypeReturnRequested, o)
}

type Publisher interface {
	Publish(ctx context.Context, events ...OrderEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by order id, so every event of one
// order lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafkaGo.Writer{
			Addr:         kafkaGo.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkaGo.Hash{},
			RequiredAcks: kafkaGo.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := toMessages(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write order events: %w", err)
	}
	p.logger.Debug("published order events", "count", len(msgs), "type", events[0].Type)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessages(events []OrderEvent) ([]kafkaGo.Message, error) {
	msgs := make([]kafkaGo.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafkaGo.Message{
			Key:     []byte(strconv.FormatInt(e.OrderID, 10)),
			Value:   payload,
			Headers: []kafkaGo.Header{{Key: "type", Value: []byte(e.Type)}},
			Time:    e.OccurredAt,
		})
	}
	return msgs, nil
}

// Nop drops every event; it stands in when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...OrderEvent) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *Recorder) Publish(_ context.Context, events ...OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OrderEvent, len(r.events))
	copy(out, r.events)
	return out
}
