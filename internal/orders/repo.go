package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrReferenceConflict = errors.New("payment reference changed concurrently")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrStatusConflict    = errors.New("order status changed concurrently")
)

const maxNumberAttempts = 5

// DB is the part of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type Repo struct{ DB DB }

const orderColumns = `
	id, order_number, COALESCE(external_id, ''), COALESCE(customer_id, ''),
	guest_email, guest_phone, subtotal, discount, shipping_fee, total, currency,
	promotion_id, promotion_code, shipping_zone_id, shipping_address,
	status, payment_status, COALESCE(payment_reference, ''), payment_provider,
	authorization_url, paid_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.CustomerID,
		&o.GuestEmail, &o.GuestPhone, &o.Subtotal, &o.Discount, &o.ShippingFee, &o.Total, &o.Currency,
		&o.PromotionID, &o.PromotionCode, &o.ShippingZoneID, &o.ShippingAddress,
		&o.Status, &o.PaymentStatus, &o.PaymentReference, &o.PaymentProvider,
		&o.AuthorizationURL, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create stores o in PENDING/PENDING and fills in its id, order number and
// timestamps. It is idempotent on ExternalID: when an order with the same
// external id exists it is returned with existed=true.
func (r *Repo) Create(ctx context.Context, o *Order) (stored *Order, existed bool, err error) {
	if err := o.CheckTotals(); err != nil {
		return nil, false, err
	}
	if o.ExternalID != "" {
		prev, err := r.getBy(ctx, `external_id = $1`, o.ExternalID)
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err = r.insert(ctx, o)
		var pgErr *pgconn.PgError
		if err == nil || !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			break
		}
		switch pgErr.ConstraintName {
		case "orders_order_number_key":
			continue
		case "orders_external_id_key":
			// lost a race with a concurrent checkout carrying the same key
			prev, gerr := r.getBy(ctx, `external_id = $1`, o.ExternalID)
			if gerr != nil {
				return nil, false, gerr
			}
			return prev, true, nil
		}
		break
	}
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}

func (r *Repo) insert(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o.ID = uuid.NewString()
	o.OrderNumber = NewOrderNumber(time.Now())
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, external_id, customer_id, guest_email, guest_phone,
		                   subtotal, discount, shipping_fee, total, currency,
		                   promotion_id, promotion_code, shipping_zone_id, shipping_address,
		                   status, payment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, nullable(o.ExternalID), nullable(o.CustomerID), o.GuestEmail, o.GuestPhone,
		o.Subtotal, o.Discount, o.ShippingFee, o.Total, o.Currency,
		o.PromotionID, o.PromotionCode, o.ShippingZoneID, o.ShippingAddress,
		o.Status, o.PaymentStatus,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		if err := tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, variant_id, product_name, variant_name, size, color,
			                        unit_price, quantity, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`,
			o.ID, it.VariantID, it.ProductName, it.VariantName, it.Size, it.Color,
			it.UnitPrice, it.Quantity, it.LineTotal,
		).Scan(&it.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getBy(ctx, `id = $1`, id)
}

func (r *Repo) FindByReference(ctx context.Context, reference string) (*Order, error) {
	return r.getBy(ctx, `payment_reference = $1`, reference)
}

func (r *Repo) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, variant_id, product_name, variant_name, size, color, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.VariantID, &it.ProductName, &it.VariantName, &it.Size, &it.Color,
			&it.UnitPrice, &it.Quantity, &it.LineTotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// AttachPaymentReference sets the gateway reference on a PENDING order,
// but only if the stored reference still equals prev ("" for none).
func (r *Repo) AttachPaymentReference(ctx context.Context, id, prev, reference, provider, authURL string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET payment_reference = $3, payment_provider = $4, authorization_url = $5, updated_at = now()
		WHERE id = $1 AND payment_status = 'PENDING' AND COALESCE(payment_reference, '') = $2`,
		id, prev, reference, provider, authURL)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrReferenceConflict
	}
	return nil
}

// MarkPaid moves payment_status PENDING -> PAID for the order carrying
// reference, confirms a still-pending order and consumes one use of the
// applied promotion, all in one transaction. applied=false means another
// writer got there first and nothing changed; otherwise status is the
// fulfilment status as committed.
func (r *Repo) MarkPaid(ctx context.Context, id, reference string, paidAt time.Time) (applied bool, status Status, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var promotionID *int64
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET payment_status = 'PAID',
		    status = CASE WHEN status = 'PENDING' THEN 'CONFIRMED' ELSE status END,
		    paid_at = $3, updated_at = now()
		WHERE id = $1 AND payment_reference = $2 AND payment_status = 'PENDING'
		RETURNING promotion_id, status`, id, reference, paidAt).Scan(&promotionID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	if promotionID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE promotions SET usage_count = usage_count + 1, updated_at = now()
			WHERE id = $1`, *promotionID); err != nil {
			return false, "", fmt.Errorf("consume promotion %d: %w", *promotionID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, "", err
	}
	return true, status, nil
}

// MarkFailed moves payment_status PENDING -> FAILED. Fulfilment status is
// left as it is and returned.
func (r *Repo) MarkFailed(ctx context.Context, id, reference string) (applied bool, status Status, err error) {
	err = r.DB.QueryRow(ctx, `
		UPDATE orders SET payment_status = 'FAILED', updated_at = now()
		WHERE id = $1 AND payment_reference = $2 AND payment_status = 'PENDING'
		RETURNING status`, id, reference).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, status, nil
}

// AdvanceStatus moves fulfilment status from -> to. Confirming requires a
// paid order.
func (r *Repo) AdvanceStatus(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2 AND ($3 <> 'CONFIRMED' OR payment_status = 'PAID')`,
		id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrStatusConflict
	}
	return nil
}
