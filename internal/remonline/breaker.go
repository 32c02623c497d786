package remonline

import (
	"github.com/sony/gobreaker"
)

type CircuitBreaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (noopBreaker) Execute(fn func() error) error { return fn() }

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g *gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// NewCircuitBreaker trips after BreakerFailures consecutive failures and
// probes again after BreakerTimeout. Client errors (4xx) do not count.
func NewCircuitBreaker(cfg Config) CircuitBreaker {
	if !cfg.BreakerEnabled {
		return noopBreaker{}
	}
	settings := gobreaker.Settings{
		Name:        "remonline",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
	}
	return &gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}
