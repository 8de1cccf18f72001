package eventlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Insert(ctx context.Context, rec Record) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payment_events(event_id, event_type, order_id, reference, provider, status,
		                           amount, source, idempotency_key, occurred_at, raw)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.OrderID, rec.Reference, rec.Provider, rec.Status,
		rec.Amount, rec.Source, rec.IdempotencyKey, rec.OccurredAt, []byte(rec.Raw))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
