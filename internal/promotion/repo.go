package promotion

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

// FindByCode expects a normalized code; codes are stored upper-cased.
func (r *Repo) FindByCode(ctx context.Context, code string) (*Promotion, error) {
	var (
		p          Promotion
		minOrder   decimal.NullDecimal
		maxDisc    decimal.NullDecimal
		usageLimit *int
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, discount_type, value, min_order_amount, max_discount,
		       usage_limit, usage_count, valid_from, valid_to, is_active
		FROM promotions WHERE code = $1`, code).
		Scan(&p.ID, &p.Code, &p.Type, &p.Value, &minOrder, &maxDisc,
			&usageLimit, &p.UsageCount, &p.ValidFrom, &p.ValidTo, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if minOrder.Valid {
		p.MinOrderAmount = &minOrder.Decimal
	}
	if maxDisc.Valid {
		p.MaxDiscount = &maxDisc.Decimal
	}
	p.UsageLimit = usageLimit
	return &p, nil
}
