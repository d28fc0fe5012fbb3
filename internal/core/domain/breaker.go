package domain

// BreakerState is one of the three circuit breaker states shared across
// every gateway replica via the store.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerRecord is the breaker's persisted state for the single upstream
// this gateway fronts. There is one record, keyed by a fixed name, not one
// per identity.
type BreakerRecord struct {
	State               BreakerState
	FailureCount        int
	SuccessCount        int
	LastStateChangeTime int64 // unix seconds
}
