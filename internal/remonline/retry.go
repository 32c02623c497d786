package remonline

import (
	"context"
	"time"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs fn until it succeeds or the retries are spent. Unsafe calls
// and non-transient errors are not retried.
func (r RetryPolicy) Do(ctx context.Context, safe bool, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil || !safe || !isTransient(err) || i == r.MaxRetries {
			return err
		}
		timer := time.NewTimer(r.BaseDelay * time.Duration(i+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
