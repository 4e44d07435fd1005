package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("record not found")

// KV is the durable key/value contract the record store is built on.
// Set overwrites unconditionally and resets the key's TTL; there is no
// compare-and-swap, so concurrent read-modify-write sequences on the same
// key can lose updates. Callers are expected to tolerate that.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}
