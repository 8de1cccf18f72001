// Package payments owns the payment state of orders. Every payment
// notification, whether a browser return or a provider webhook, ends up in
// Reconciler.Apply, the single writer of payment status.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/telemetry"
)

type Source string

const (
	SourceVerify     Source = "verify"
	SourceWebhook    Source = "webhook"
	SourceInitialize Source = "initialize"
)

// Event is one report from the provider about one payment attempt.
type Event struct {
	Provider  string
	Reference string
	OrderID   string // from provider metadata, may be empty
	Status    gateway.Status
	Amount    *decimal.Decimal
	Currency  string // may be empty
	Source    Source
}

// IdempotencyKey identifies repeated deliveries of the same report.
func (e Event) IdempotencyKey() string {
	return e.Reference + ":" + string(e.Status)
}

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeConflict  Outcome = "conflict"
)

type Result struct {
	OrderID       string               `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	Outcome       Outcome              `json:"outcome"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
}

func resultOf(o *orders.Order, out Outcome) Result {
	return Result{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Outcome:       out,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
}

type OrderStore interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	FindByReference(ctx context.Context, reference string) (*orders.Order, error)
	AttachPaymentReference(ctx context.Context, id, prev, reference, provider, authURL string) error
	MarkPaid(ctx context.Context, id, reference string, paidAt time.Time) (bool, orders.Status, error)
	MarkFailed(ctx context.Context, id, reference string) (bool, orders.Status, error)
}

type StatusCache interface {
	Put(ctx context.Context, orderID string, v any) error
}

type Reconciler struct {
	Orders   OrderStore
	Producer kafkax.Publisher // optional
	Cache    StatusCache      // optional
	Service  string
	Log      *slog.Logger

	now func() time.Time
}

func (r *Reconciler) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Reconciler) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// Apply moves the order named by ev out of payment PENDING at most once.
// Events for orders already PAID or FAILED are no-ops. The write is a
// conditional update on payment_status, so racing callers cannot both win.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	ctx, span := otel.Tracer("payments").Start(ctx, "payments.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.reference", ev.Reference),
		attribute.String("payment.status", string(ev.Status)),
		attribute.String("payment.source", string(ev.Source)),
	)
	log := r.log().With("reference", ev.Reference, "reported_status", string(ev.Status), "source", string(ev.Source))

	o, err := r.locate(ctx, ev)
	if err != nil {
		if IsConflict(err) {
			log.WarnContext(ctx, "payment event rejected", "error", err)
		}
		return Result{}, err
	}
	log = log.With("order_id", o.ID)

	if o.PaymentStatus.Terminal() {
		log.InfoContext(ctx, "payment already settled, event ignored", "payment_status", string(o.PaymentStatus))
		return resultOf(o, OutcomeDuplicate), nil
	}

	switch {
	case ev.Status.Succeeded():
		if ev.Amount != nil && !ev.Amount.Equal(o.Total) {
			err := &ConflictError{Reference: ev.Reference, OrderID: o.ID,
				Err: fmt.Errorf("%w: paid %s, total %s", ErrAmountMismatch, ev.Amount, o.Total)}
			log.WarnContext(ctx, "payment event rejected", "error", err)
			return Result{}, err
		}
		if ev.Currency != "" && o.Currency != "" && !strings.EqualFold(ev.Currency, o.Currency) {
			err := &ConflictError{Reference: ev.Reference, OrderID: o.ID,
				Err: fmt.Errorf("%w: paid in %s, order in %s", ErrCurrencyMismatch, ev.Currency, o.Currency)}
			log.WarnContext(ctx, "payment event rejected", "error", err)
			return Result{}, err
		}
		at := r.clock()
		applied, status, err := r.Orders.MarkPaid(ctx, o.ID, o.PaymentReference, at)
		if err != nil {
			return Result{}, fmt.Errorf("mark order %s paid: %w", o.ID, err)
		}
		return r.settled(ctx, log, o, ev, applied, transitioned(o, OutcomePaid, status, at))

	case ev.Status.Failed():
		at := r.clock()
		applied, status, err := r.Orders.MarkFailed(ctx, o.ID, o.PaymentReference)
		if err != nil {
			return Result{}, fmt.Errorf("mark order %s failed: %w", o.ID, err)
		}
		return r.settled(ctx, log, o, ev, applied, transitioned(o, OutcomeFailed, status, at))
	}

	log.InfoContext(ctx, "payment not settled yet")
	return resultOf(o, OutcomePending), nil
}

func (r *Reconciler) locate(ctx context.Context, ev Event) (*orders.Order, error) {
	if ev.Reference == "" {
		return nil, &ConflictError{OrderID: ev.OrderID, Err: ErrOrderNotFound}
	}
	o, err := r.Orders.FindByReference(ctx, ev.Reference)
	if err == nil {
		if ev.OrderID != "" && ev.OrderID != o.ID {
			return nil, &ConflictError{Reference: ev.Reference, OrderID: ev.OrderID, Err: ErrReferenceMismatch}
		}
		return o, nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("find order by reference %s: %w", ev.Reference, err)
	}
	if ev.OrderID == "" {
		return nil, &ConflictError{Reference: ev.Reference, Err: ErrOrderNotFound}
	}

	o, err = r.Orders.Get(ctx, ev.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, &ConflictError{Reference: ev.Reference, OrderID: ev.OrderID, Err: ErrOrderNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", ev.OrderID, err)
	}
	// the order exists but carries another attempt's reference
	return nil, &ConflictError{Reference: ev.Reference, OrderID: o.ID, Err: ErrReferenceMismatch}
}

// settled reports a conditional update. When it applied, after is the
// committed state and nothing is read back.
func (r *Reconciler) settled(ctx context.Context, log *slog.Logger, before *orders.Order, ev Event, applied bool, after *orders.Order) (Result, error) {
	if !applied {
		cur, err := r.Orders.Get(ctx, before.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload order %s: %w", before.ID, err)
		}
		log.InfoContext(ctx, "concurrent payment update won, event ignored", "payment_status", string(cur.PaymentStatus))
		return resultOf(cur, OutcomeDuplicate), nil
	}

	out := OutcomePaid
	if after.PaymentStatus == orders.PaymentFailed {
		out = OutcomeFailed
	}
	log.InfoContext(ctx, "payment settled", "payment_status", string(after.PaymentStatus), "status", string(after.Status))
	if r.Cache != nil {
		if err := r.Cache.Put(ctx, after.ID, after.View()); err != nil {
			log.WarnContext(ctx, "status cache update failed", "error", err)
		}
	}

	topic, eventType := orders.TopicPaymentConfirmed, orders.EventPaymentConfirmed
	if out == OutcomeFailed {
		topic, eventType = orders.TopicPaymentFailed, orders.EventPaymentFailed
	}
	r.publish(ctx, topic, eventType, after, orders.PaymentPayload{
		OrderID:   after.ID,
		Reference: ev.Reference,
		Provider:  after.PaymentProvider,
		Status:    string(ev.Status),
		Amount:    after.Total,
		Source:    string(ev.Source),
	})
	return resultOf(after, out), nil
}

// transitioned is before with an applied payment transition and the
// fulfilment status the update returned.
func transitioned(before *orders.Order, out Outcome, status orders.Status, at time.Time) *orders.Order {
	after := *before
	after.UpdatedAt = at
	if status != "" {
		after.Status = status
	}
	if out == OutcomeFailed {
		after.PaymentStatus = orders.PaymentFailed
		return &after
	}
	after.PaymentStatus = orders.PaymentPaid
	after.PaidAt = &at
	return &after
}

func (r *Reconciler) publish(ctx context.Context, topic, eventType string, o *orders.Order, p orders.PaymentPayload) {
	publishEvent(ctx, r.Producer, r.log(), r.Service, topic, eventType, o.ID, p)
}

func publishEvent(ctx context.Context, p kafkax.Publisher, log *slog.Logger, service, topic, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, service, orderID, telemetry.TraceID(ctx), payload)
	if err != nil {
		log.ErrorContext(ctx, "encode event", "event_type", eventType, "error", err)
		return
	}
	p.Publish(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(env), kafkax.EventHeaders(eventType, env.EventVersion)...)
}
