package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

type Gateway interface {
	Provider() string
	Initialize(ctx context.Context, req gateway.InitRequest) (gateway.InitResult, error)
	Verify(ctx context.Context, reference string) (gateway.Transaction, error)
	DecodeWebhook(raw []byte) (gateway.WebhookEvent, error)
}

type SignatureVerifier interface {
	Verify(rawBody []byte, signature string) bool
}

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Service struct {
	Orders      OrderStore
	Gateway     Gateway
	Reconciler  *Reconciler
	Verifier    SignatureVerifier
	Dedup       Deduper          // optional
	Producer    kafkax.Publisher // optional
	ServiceName string
	CallbackURL string
	Log         *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

type InitRequest struct {
	OrderID     string
	Email       string
	Amount      *decimal.Decimal
	CallbackURL string
}

type InitResponse struct {
	OrderID          string               `json:"order_id"`
	Reference        string               `json:"reference"`
	AuthorizationURL string               `json:"authorization_url,omitempty"`
	PaymentStatus    orders.PaymentStatus `json:"payment_status"`
	Resumed          bool                 `json:"resumed"`
}

// InitializePayment starts a payment attempt for a PENDING order. An order
// holds one live reference: an existing one is only replaced once the
// provider reports it failed or abandoned.
func (s *Service) InitializePayment(ctx context.Context, req InitRequest) (InitResponse, error) {
	o, err := s.Orders.Get(ctx, req.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return InitResponse{}, apperr.NotFound("order_not_found", "order not found")
	}
	if err != nil {
		return InitResponse{}, err
	}
	if req.Amount != nil && !req.Amount.Equal(o.Total) {
		return InitResponse{}, apperr.Validation("amount_mismatch", "amount must equal the order total of "+o.Total.StringFixed(2))
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = o.GuestEmail
	}
	if email == "" {
		return InitResponse{}, apperr.Validation("email_required", "payer email is required")
	}
	if o.PaymentStatus != orders.PaymentPending {
		return InitResponse{}, apperr.Conflict("payment_not_pending", "order payment is already "+strings.ToLower(string(o.PaymentStatus)))
	}

	prev := o.PaymentReference
	if prev != "" {
		resp, done, err := s.resumeAttempt(ctx, o)
		if err != nil || done {
			return resp, err
		}
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = s.CallbackURL
	}
	res, err := s.Gateway.Initialize(ctx, gateway.InitRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Email:       email,
		Amount:      o.Total,
		Reference:   gateway.NewReference(),
		CallbackURL: callback,
	})
	if err != nil {
		return InitResponse{}, gatewayError(err)
	}

	if err := s.Orders.AttachPaymentReference(ctx, o.ID, prev, res.Reference, s.Gateway.Provider(), res.AuthorizationURL); err != nil {
		if errors.Is(err, orders.ErrReferenceConflict) {
			return InitResponse{}, apperr.Wrap(apperr.KindConflict, "payment_initialization_race",
				"another payment attempt was started for this order", err)
		}
		return InitResponse{}, err
	}
	s.log().InfoContext(ctx, "payment initialized", "order_id", o.ID, "reference", res.Reference, "replaced", prev)

	publishEvent(ctx, s.Producer, s.log(), s.ServiceName, orders.TopicPaymentInitialized, orders.EventPaymentInitialized, o.ID,
		orders.PaymentPayload{
			OrderID:   o.ID,
			Reference: res.Reference,
			Provider:  s.Gateway.Provider(),
			Status:    string(gateway.StatusPending),
			Amount:    o.Total,
			Source:    string(SourceInitialize),
		})

	return InitResponse{
		OrderID:          o.ID,
		Reference:        res.Reference,
		AuthorizationURL: res.AuthorizationURL,
		PaymentStatus:    orders.PaymentPending,
	}, nil
}

// resumeAttempt decides what to do with the order's existing reference.
// done=false means the old attempt is dead and a new one may replace it.
func (s *Service) resumeAttempt(ctx context.Context, o *orders.Order) (InitResponse, bool, error) {
	tx, err := s.Gateway.Verify(ctx, o.PaymentReference)
	switch {
	case errors.Is(err, gateway.ErrReferenceNotFound):
		return InitResponse{}, false, nil
	case err != nil:
		return InitResponse{}, true, gatewayError(err)
	}

	switch {
	case tx.Status.Succeeded():
		res, err := s.Reconciler.Apply(ctx, eventFrom(s.Gateway.Provider(), tx, SourceInitialize))
		if err != nil {
			return InitResponse{}, true, reconcileError(err)
		}
		return InitResponse{OrderID: o.ID, Reference: o.PaymentReference, PaymentStatus: res.PaymentStatus}, true, nil
	case tx.Status.Failed():
		return InitResponse{}, false, nil
	}
	return InitResponse{
		OrderID:          o.ID,
		Reference:        o.PaymentReference,
		AuthorizationURL: o.AuthorizationURL,
		PaymentStatus:    o.PaymentStatus,
		Resumed:          true,
	}, true, nil
}

type VerifyResponse struct {
	Success bool `json:"success"`
	Result
}

// VerifyPayment asks the provider about reference and reconciles the
// answer. Calling it repeatedly is safe.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (VerifyResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerifyResponse{}, apperr.Validation("reference_required", "reference is required")
	}
	tx, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		return VerifyResponse{}, gatewayError(err)
	}
	res, err := s.Reconciler.Apply(ctx, eventFrom(s.Gateway.Provider(), tx, SourceVerify))
	if err != nil {
		return VerifyResponse{}, reconcileError(err)
	}
	return VerifyResponse{Success: res.PaymentStatus == orders.PaymentPaid, Result: res}, nil
}

// HandleWebhook authenticates and applies a provider notification.
// Reconciliation conflicts are acknowledged, not returned, so the provider
// does not redeliver them; only infrastructure failures come back as errors.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte, signature string) (Result, error) {
	if !s.Verifier.Verify(raw, signature) {
		s.log().WarnContext(ctx, "webhook signature rejected", "security", true, "body_bytes", len(raw))
		return Result{}, apperr.Wrap(apperr.KindSignature, "invalid_signature", "webhook signature verification failed", ErrInvalidSignature)
	}

	wh, err := s.Gateway.DecodeWebhook(raw)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidation, "malformed_webhook", "webhook body could not be decoded", err)
	}

	ev := eventFrom(s.Gateway.Provider(), wh.Transaction, SourceWebhook)
	switch wh.Event {
	case gateway.EventChargeSuccess:
		ev.Status = gateway.StatusSuccess
	case gateway.EventChargeFailed:
		if !ev.Status.Failed() {
			ev.Status = gateway.StatusFailed
		}
	default:
		s.log().InfoContext(ctx, "webhook event ignored", "event", wh.Event, "reference", ev.Reference)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	key := ev.IdempotencyKey()
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, key); err == nil && seen {
			s.log().InfoContext(ctx, "webhook already processed", "key", key)
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	res, err := s.Reconciler.Apply(ctx, ev)
	if IsConflict(err) {
		return Result{Outcome: OutcomeConflict}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if s.Dedup != nil && res.Outcome != OutcomePending {
		if err := s.Dedup.Mark(ctx, key); err != nil {
			s.log().WarnContext(ctx, "dedup mark failed", "key", key, "error", err)
		}
	}
	return res, nil
}

func eventFrom(provider string, tx gateway.Transaction, src Source) Event {
	ev := Event{
		Provider:  provider,
		Reference: tx.Reference,
		OrderID:   tx.OrderID,
		Status:    tx.Status,
		Currency:  tx.Currency,
		Source:    src,
	}
	if tx.Amount.IsPositive() {
		amt := tx.Amount
		ev.Amount = &amt
	}
	return ev
}

func gatewayError(err error) error {
	var ie *gateway.InitializationError
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return apperr.Wrap(apperr.KindUnavailable, "gateway_timeout",
			"payment provider did not answer in time; the payment status is unknown", err)
	case errors.Is(err, gateway.ErrReferenceNotFound):
		return apperr.Wrap(apperr.KindNotFound, "reference_not_found", "payment reference not found", err)
	case errors.As(err, &ie):
		return apperr.Wrap(apperr.KindGateway, "payment_initialization_failed", ie.Message, err)
	}
	return apperr.Wrap(apperr.KindGateway, "gateway_error", "payment provider error", err)
}

func reconcileError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return apperr.Wrap(apperr.KindNotFound, "order_not_found", "no order for this payment reference", err)
	case IsConflict(err):
		return apperr.Wrap(apperr.KindConflict, "payment_conflict", "payment does not match the order", err)
	}
	return err
}
