package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed notification keys. It is a fast path only; the
// database write stays the authority on whether an event applied.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, d.Service, key))
}

func (d *Dedup) Mark(ctx context.Context, key string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, key), "1", TTLDedup).Err()
}

type StatusCache struct{ RDB *redis.Client }

func (c *StatusCache) Put(ctx context.Context, orderID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Get returns the cached JSON, or ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (raw []byte, ok bool, err error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

type Idempotency struct{ RDB *redis.Client }

func (i *Idempotency) Lookup(ctx context.Context, externalID string) (orderID string, ok bool, err error) {
	s, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemCheckout, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, externalID, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemCheckout, externalID), orderID, TTLIdempotency).Err()
}
