package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

type OrderStore interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	AdvanceStatus(ctx context.Context, id string, from, to orders.Status) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool, error)
	Put(ctx context.Context, orderID string, v any) error
}

type OrdersHandler struct {
	Repo  OrderStore
	Cache StatusCache // optional
	Log   *slog.Logger
}

type AdvanceStatusReq struct {
	Status orders.Status `json:"status" validate:"required"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/status", h.advanceStatus)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, json.RawMessage(b))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Repo.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, r, logger(h.Log), apperr.NotFound("order_not_found", "order not found"))
		return
	}
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusOK, o.View())
}

func (h *OrdersHandler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req AdvanceStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, logger(h.Log), apperr.Validation("invalid_status", "unknown order status "+string(req.Status)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Repo.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, r, logger(h.Log), apperr.NotFound("order_not_found", "order not found"))
		return
	}
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}

	err = h.Repo.AdvanceStatus(ctx, o.ID, o.Status, req.Status)
	switch {
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, r, logger(h.Log), apperr.Wrap(apperr.KindConflict, "invalid_transition",
			"order cannot move from "+string(o.Status)+" to "+string(req.Status), err))
		return
	case errors.Is(err, orders.ErrStatusConflict):
		msg := "order changed concurrently, reload and retry"
		if req.Status == orders.StatusConfirmed && o.PaymentStatus != orders.PaymentPaid {
			msg = "order cannot be confirmed before payment"
		}
		writeError(w, r, logger(h.Log), apperr.Wrap(apperr.KindConflict, "status_conflict", msg, err))
		return
	case err != nil:
		writeError(w, r, logger(h.Log), err)
		return
	}

	updated, err := h.Repo.Get(ctx, o.ID)
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	h.cache(ctx, updated)
	logger(h.Log).InfoContext(ctx, "order status advanced", "order_id", o.ID, "from", o.Status, "to", updated.Status)
	writeJSON(w, http.StatusOK, updated.View())
}

func (h *OrdersHandler) cache(ctx context.Context, o *orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Put(ctx, o.ID, o.View()); err != nil {
		logger(h.Log).WarnContext(ctx, "status cache update failed", "order_id", o.ID, "error", err)
	}
}
