package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with set-with-expiry semantics. Implemented by
// the memory store (dev/tests) and the Redis store (prod).
//
// The store is fail open: caching is an optimization, never a correctness
// requirement. Callers must treat a Get error exactly like a miss and must
// log-and-drop a Set error rather than failing the request. Implementations
// return errors so callers can log them, not so they can propagate them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
