package ports

import "net/http"

// ProxyPipeline is the single entry point the route registry wires up
// under /proxy/. It runs identity derivation, the rate limiter, the
// circuit breaker and the upstream round trip, in that order.
type ProxyPipeline interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}
