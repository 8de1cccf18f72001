package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventPaymentInitialized = "PaymentInitialized"
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventPaymentFailed      = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, orderID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

type ItemPrice struct {
	VariantID string          `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	ExternalID    string          `json:"external_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Items         []ItemPrice     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Total         decimal.Decimal `json:"total"`
	PromotionCode string          `json:"promotion_code,omitempty"`
}

// PaymentPayload is shared by the payment.* events. Status carries the
// reported gateway status so the event log can key on reference:status.
type PaymentPayload struct {
	OrderID   string          `json:"order_id"`
	Reference string          `json:"reference"`
	Provider  string          `json:"provider"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source,omitempty"` // verify | webhook | initialize
	Reason    string          `json:"reason,omitempty"`
}

func OrderCreated(o *Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{VariantID: it.VariantID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderCreatedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		ExternalID:    o.ExternalID,
		CustomerID:    o.CustomerID,
		Items:         items,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		ShippingFee:   o.ShippingFee,
		Total:         o.Total,
		PromotionCode: o.PromotionCode,
	}
}
