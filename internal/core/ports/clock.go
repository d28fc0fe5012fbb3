package ports

import "time"

// Clock abstracts time.Now so the limiter and breaker refill/timeout math
// can be driven deterministically from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
