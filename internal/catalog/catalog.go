package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrUnknownVariant = errors.New("unknown product variant")

type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	Name        string
	Size        string
	Color       string
	BasePrice   decimal.Decimal
	Adjustment  decimal.Decimal
	Active      bool
}

// UnitPrice is the live price: product base price plus the variant adjustment.
func (v Variant) UnitPrice() decimal.Decimal {
	return v.BasePrice.Add(v.Adjustment)
}

type Repo struct{ DB *pgxpool.Pool }

// Variants loads the requested variants with their current prices. Any id
// that is missing or inactive yields ErrUnknownVariant.
func (r *Repo) Variants(ctx context.Context, ids []string) (map[string]Variant, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT v.id, p.id, p.name, v.name, v.size, v.color, p.base_price, v.price_adjustment,
		       (p.is_active AND v.is_active)
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Variant, len(ids))
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Name, &v.Size, &v.Color,
			&v.BasePrice, &v.Adjustment, &v.Active); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if v, ok := out[id]; !ok || !v.Active {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, id)
		}
	}
	return out, nil
}
