// Package gateway is the client for the hosted payment provider. Amounts
// cross this package's boundary in major units; everything sent to or read
// from the provider is converted to and from its integer minor unit here.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ariefcatur/go-checkout-payments/internal/config"
)

var (
	// ErrTimeout means the provider did not answer in time; the outcome is unknown.
	ErrTimeout           = errors.New("payment gateway timed out")
	ErrMalformed         = errors.New("malformed payment gateway response")
	ErrReferenceNotFound = errors.New("payment reference unknown to gateway")
)

// InitializationError is a provider rejection of a new transaction.
type InitializationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("payment initialization rejected (%d): %s", e.StatusCode, e.Message)
}

func (e *InitializationError) Unwrap() error { return e.Err }

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusReversed  Status = "reversed"
	StatusPending   Status = "pending"
)

func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusSuccess
	case "failed":
		return StatusFailed
	case "abandoned":
		return StatusAbandoned
	case "reversed":
		return StatusReversed
	case "pending", "ongoing", "processing", "queued", "send_otp", "send_birthday", "send_pin":
		return StatusPending
	}
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// Succeeded and Failed are mutually exclusive; a status that is neither
// leaves the outcome open.
func (s Status) Succeeded() bool { return s == StatusSuccess }

func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusAbandoned || s == StatusReversed
}

type InitRequest struct {
	OrderID     string
	OrderNumber string
	Email       string
	Amount      decimal.Decimal
	Reference   string
	CallbackURL string
}

type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the provider's view of one payment attempt.
type Transaction struct {
	Reference string
	Status    Status
	Amount    decimal.Decimal
	Currency  string
	OrderID   string
	Message   string
}

type Client struct {
	http     *resty.Client
	provider string
	currency string
	minor    int64
}

func New(cfg config.Gateway) *Client {
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Client{http: h, provider: cfg.Provider, currency: cfg.Currency, minor: cfg.MinorUnit}
}

func (c *Client) Provider() string { return c.provider }

// NewReference returns a reference unique per payment attempt.
func NewReference() string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type txData struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (c *Client) Initialize(ctx context.Context, req InitRequest) (InitResult, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "gateway.Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID), attribute.String("payment.reference", req.Reference))

	minor, err := ToMinor(req.Amount, c.minor)
	if err != nil {
		return InitResult{}, err
	}
	body := map[string]any{
		"email":        req.Email,
		"amount":       minor,
		"currency":     c.currency,
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata": map[string]string{
			"order_id":     req.OrderID,
			"order_number": req.OrderNumber,
		},
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/transaction/initialize")
	if err != nil {
		err = transportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialize")
		return InitResult{}, err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return InitResult{}, &InitializationError{StatusCode: resp.StatusCode(), Message: "invalid response from payment gateway", Err: ErrMalformed}
	}
	if resp.IsError() || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = resp.Status()
		}
		span.SetStatus(codes.Error, msg)
		return InitResult{}, &InitializationError{StatusCode: resp.StatusCode(), Message: msg}
	}

	var out InitResult
	if err := json.Unmarshal(env.Data, &out); err != nil || out.AuthorizationURL == "" {
		return InitResult{}, &InitializationError{StatusCode: resp.StatusCode(), Message: "incomplete response from payment gateway", Err: ErrMalformed}
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return out, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (Transaction, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "gateway.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", reference))

	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("reference", reference).
		Get("/transaction/verify/{reference}")
	if err != nil {
		err = transportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify")
		return Transaction{}, err
	}

	if resp.StatusCode() == 404 {
		return Transaction{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, reference)
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return Transaction{}, fmt.Errorf("%w: verify %s: %v", ErrMalformed, reference, err)
	}
	if resp.IsError() || !env.Status {
		// Paystack reports unknown references as 400 with status false
		if strings.Contains(strings.ToLower(env.Message), "not found") {
			return Transaction{}, fmt.Errorf("%w: %s: %s", ErrReferenceNotFound, reference, env.Message)
		}
		return Transaction{}, fmt.Errorf("verify %s: gateway answered %d: %s", reference, resp.StatusCode(), env.Message)
	}

	var d txData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return Transaction{}, fmt.Errorf("%w: verify %s: %v", ErrMalformed, reference, err)
	}
	tx := c.transaction(d)
	if tx.Reference == "" {
		tx.Reference = reference
	}
	span.SetAttributes(attribute.String("payment.status", string(tx.Status)))
	return tx, nil
}

func (c *Client) transaction(d txData) Transaction {
	return Transaction{
		Reference: d.Reference,
		Status:    normalizeStatus(d.Status),
		Amount:    FromMinor(d.Amount, c.minor),
		Currency:  d.Currency,
		OrderID:   metadataOrderID(d.Metadata),
		Message:   d.GatewayResponse,
	}
}

// metadataOrderID tolerates metadata sent back as an object, a JSON string
// holding an object, or an empty string.
func metadataOrderID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m.OrderID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m.OrderID
		}
	}
	return ""
}

func transportError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("payment gateway unreachable: %w", err)
}
