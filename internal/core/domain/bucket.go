package domain

// Bucket is the token-bucket state persisted per identity. Tokens is kept
// as a float so fractional refill amounts aren't lost between reads.
type Bucket struct {
	Tokens         float64
	LastRefillTime int64 // unix seconds
}
