package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-payments/internal/checkout"
	"github.com/ariefcatur/go-checkout-payments/internal/pricing"
)

type CheckoutService interface {
	Quote(ctx context.Context, req checkout.Request) (pricing.Quote, error)
	PlaceOrder(ctx context.Context, req checkout.Request) (checkout.Placed, error)
}

type CheckoutHandler struct {
	Service CheckoutService
	Log     *slog.Logger
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/quote", h.quote)
	r.Post("/checkout/orders", h.placeOrder)
}

func (h *CheckoutHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	q, err := h.Service.Quote(ctx, req)
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *CheckoutHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	placed, err := h.Service.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	code := http.StatusCreated
	if placed.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, placed)
}
