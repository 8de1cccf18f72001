package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/payments"
	"github.com/ariefcatur/go-checkout-payments/internal/webhook"
)

type PaymentService interface {
	InitializePayment(ctx context.Context, req payments.InitRequest) (payments.InitResponse, error)
	VerifyPayment(ctx context.Context, reference string) (payments.VerifyResponse, error)
	HandleWebhook(ctx context.Context, raw []byte, signature string) (payments.Result, error)
}

type PaymentsHandler struct {
	Service PaymentService
	Log     *slog.Logger
}

type InitializePaymentReq struct {
	OrderID     string           `json:"order_id" validate:"required,uuid"`
	Email       string           `json:"email" validate:"omitempty,email"`
	Amount      *decimal.Decimal `json:"amount"`
	CallbackURL string           `json:"callback_url" validate:"omitempty,url"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/initialize", h.initialize)
	r.Get("/payments/verify", h.verify)
	r.Post("/payments/webhook", h.webhook)
}

func (h *PaymentsHandler) initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializePaymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	// the gateway timeout sits below this
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	resp, err := h.Service.InitializePayment(ctx, payments.InitRequest{
		OrderID:     req.OrderID,
		Email:       req.Email,
		Amount:      req.Amount,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentsHandler) verify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	resp, err := h.Service.VerifyPayment(ctx, r.URL.Query().Get("reference"))
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// webhook acknowledges everything it has durably handled, conflicts
// included. Non-2xx answers make the provider redeliver.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, r, logger(h.Log), apperr.Wrap(apperr.KindValidation, "unreadable_body", "request body could not be read", err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.HandleWebhook(ctx, raw, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
}
