package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/shipping"
)

type ZoneStore interface {
	CreateZone(ctx context.Context, z shipping.Zone) (shipping.Zone, error)
}

type AdminHandler struct {
	Zones ZoneStore
	Log   *slog.Logger
}

type CreateZoneReq struct {
	Name    string          `json:"name" validate:"required,max=100"`
	Regions []string        `json:"regions" validate:"required,min=1,dive,required"`
	Fee     decimal.Decimal `json:"fee"`
	Active  *bool           `json:"active"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/shipping-zones", h.createZone)
}

func (h *AdminHandler) createZone(w http.ResponseWriter, r *http.Request) {
	var req CreateZoneReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	if req.Fee.IsNegative() {
		writeError(w, r, logger(h.Log), apperr.Validation("invalid_shipping_fee", "fee must not be negative"))
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	z, err := h.Zones.CreateZone(ctx, shipping.Zone{Name: req.Name, Regions: req.Regions, Fee: req.Fee, Active: active})
	if errors.Is(err, shipping.ErrRegionConflict) {
		writeError(w, r, logger(h.Log), apperr.Wrap(apperr.KindConflict, "region_conflict", err.Error(), err))
		return
	}
	if err != nil {
		writeError(w, r, logger(h.Log), err)
		return
	}
	logger(h.Log).InfoContext(ctx, "shipping zone created", "zone_id", z.ID, "regions", z.Regions)
	writeJSON(w, http.StatusCreated, z)
}
