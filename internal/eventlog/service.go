// Package eventlog records payment events from Kafka into payment_events.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

// Record is one stored payment event. IdempotencyKey is reference:status.
type Record struct {
	EventID        string
	EventType      string
	OrderID        string
	Reference      string
	Provider       string
	Status         string
	Amount         decimal.Decimal
	Source         string
	IdempotencyKey string
	OccurredAt     time.Time
	Raw            json.RawMessage
}

type Store interface {
	// Insert returns false when the event id is already stored.
	Insert(ctx context.Context, rec Record) (bool, error)
}

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Service struct {
	Store Store
	Dedup Deduper // optional
	Log   *slog.Logger
}

var paymentEvents = map[string]bool{
	orders.EventPaymentInitialized: true,
	orders.EventPaymentConfirmed:   true,
	orders.EventPaymentFailed:      true,
}

// HandlePaymentEvent is the consumer handler for the payment.* topics.
func (s *Service) HandlePaymentEvent(ctx context.Context, m kafkago.Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// a poison message would block the partition forever
		log.ErrorContext(ctx, "undecodable event skipped", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}
	if !paymentEvents[env.EventType] {
		return nil
	}

	if s.Dedup != nil {
		seen, err := s.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			// the insert is idempotent on event_id; carry on without the cache
			log.WarnContext(ctx, "dedup lookup failed", "event_id", env.EventID, "error", err)
		}
		if seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentPayload](env.Payload)
	if err != nil {
		log.ErrorContext(ctx, "undecodable payload skipped", "event_id", env.EventID, "error", err)
		return nil
	}

	inserted, err := s.Store.Insert(ctx, Record{
		EventID:        env.EventID,
		EventType:      env.EventType,
		OrderID:        p.OrderID,
		Reference:      p.Reference,
		Provider:       p.Provider,
		Status:         p.Status,
		Amount:         p.Amount,
		Source:         p.Source,
		IdempotencyKey: p.Reference + ":" + p.Status,
		OccurredAt:     env.OccurredAt,
		Raw:            m.Value,
	})
	if err != nil {
		return err
	}
	if s.Dedup != nil {
		if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
			log.WarnContext(ctx, "dedup mark failed", "event_id", env.EventID, "error", err)
		}
	}
	log.InfoContext(ctx, "payment event recorded", "event_id", env.EventID, "event_type", env.EventType,
		"order_id", p.OrderID, "reference", p.Reference, "duplicate", !inserted)
	return nil
}
