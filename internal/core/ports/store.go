package ports

import (
	"context"
	"time"
)

// StoreClient is the shared-state abstraction the rate limiter and the
// circuit breaker are built on. Production traffic goes through a Redis
// hash per key; tests swap in an in-memory fake that satisfies the same
// contract.
type StoreClient interface {
	// ReadAll returns every field of the hash at key. A missing key
	// returns an empty, non-nil map and a nil error.
	ReadAll(ctx context.Context, key string) (map[string]string, error)

	// WriteFields sets the given fields on the hash at key, creating it
	// if it doesn't exist. Fields not present in the map are untouched.
	WriteFields(ctx context.Context, key string, fields map[string]string) error

	// SetTTL sets (or refreshes) the expiry on key. Used so abandoned
	// per-identity buckets don't accumulate forever.
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
}
