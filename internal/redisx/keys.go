package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{external_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Order status cache: order_status:{order_id} -> StatusView JSON
	KeyOrderStatus = "order_status:%s"

	// Processed notifications: dedup:{service}:{reference:status}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
