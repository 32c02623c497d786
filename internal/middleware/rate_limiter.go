package middleware

import "golang.org/x/time/rate"

// NewLimiter returns a token bucket allowing rps requests per second.
// rps <= 0 disables limiting and returns nil.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
