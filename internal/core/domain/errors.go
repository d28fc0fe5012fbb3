package domain

import "errors"

// Sentinel errors naming the failure kinds the gateway distinguishes.
// No layer wraps them: the store, limiter and breaker wrap the underlying
// store error, and the proxy pipeline picks its response from the limiter
// and breaker return values and the forward error rather than errors.Is.
var (
	// ErrRateLimited means the client's token bucket had no tokens left.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen means the breaker rejected the request before it
	// reached the upstream.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrUpstreamUnreachable means the round trip to the upstream failed
	// (connection refused, timeout, reset).
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrStoreUnavailable means the shared store could not be reached to
	// make a limiter or breaker decision.
	ErrStoreUnavailable = errors.New("shared store unavailable")
)
