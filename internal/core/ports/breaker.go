package ports

import (
	"context"

	"github.com/arvela/resily/internal/core/domain"
)

// CircuitBreaker guards the single upstream this gateway fronts. State is
// shared across replicas via the store, so BeforeRequest/RecordSuccess/
// RecordFailure each do their own store round trip rather than holding
// anything in memory beyond the wiring.
type CircuitBreaker interface {
	// BeforeRequest reports whether the breaker currently admits
	// requests, and the state it observed while deciding.
	BeforeRequest(ctx context.Context) (admitted bool, state domain.BreakerState, err error)

	// RecordSuccess reports a successful upstream round trip.
	RecordSuccess(ctx context.Context) error

	// RecordFailure reports a failed upstream round trip.
	RecordFailure(ctx context.Context) error
}
