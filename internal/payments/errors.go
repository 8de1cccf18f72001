package payments

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound     = errors.New("no order for payment reference")
	ErrReferenceMismatch = errors.New("payment reference does not belong to order")
	ErrAmountMismatch    = errors.New("paid amount differs from order total")
	ErrCurrencyMismatch  = errors.New("paid currency differs from order currency")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
)

// ConflictError is a payment event that cannot be applied: it names an
// unknown order or disagrees with what the order records. It is reported,
// never retried.
type ConflictError struct {
	Reference string
	OrderID   string
	Err       error
}

func (e *ConflictError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("reconcile %s (order %s): %v", e.Reference, e.OrderID, e.Err)
	}
	return fmt.Sprintf("reconcile %s: %v", e.Reference, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
