package ports

import (
	"context"

	"github.com/arvela/resily/internal/core/domain"
)

// RateLimiter gates requests per client identity with a shared token
// bucket. Allow never waits for a token to become available; it reads the
// bucket, writes it back, refreshes its TTL and returns the decision.
type RateLimiter interface {
	// Allow reports whether identity has a token available, consuming it
	// if so. retryAfterSeconds is only meaningful when admitted is false.
	Allow(ctx context.Context, identity domain.Identity) (admitted bool, retryAfterSeconds int, err error)
}
