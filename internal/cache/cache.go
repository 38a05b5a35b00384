package cache

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value store with per-key TTL. The settlement engine uses it as the
// fast path for idempotency-key lookups; the relational transfer_records table stays
// the authoritative record. Implementations are injected so lifecycle (init, teardown,
// test isolation) is explicit. There is no package-global store.
type Store interface {
	Set(key string, value string, ttl time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	Close() error
}
