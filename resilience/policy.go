package resilience

import (
	"context"
	"errors"
	"time"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 10 * time.Second
)

// Policy is a retry wrapped around a circuit breaker: every attempt passes the breaker first
type Policy struct {
	Retry   *Retry
	Breaker *Breaker
}

// Do runs op under the policy
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	if p.Breaker == nil {
		return p.Retry.Do(ctx, op)
	}
	return p.Retry.Do(ctx, func(ctx context.Context) error {
		return p.Breaker.Execute(ctx, op)
	})
}

// Fast is used while registering devices: a handful of attempts, short waits
func Fast(retryable func(error) bool) *Policy {
	return &Policy{
		Retry: &Retry{
			MaxAttempts: 10,
			Initial:     500 * time.Millisecond,
			Max:         10 * time.Second,
			Multiplier:  2,
			ShouldRetry: orBreakerOpen(retryable),
		},
		Breaker: breaker(retryable),
	}
}

// Slow never gives up, waits at most an hour between attempts.
// Used for pointing a device's callbacks at us, which can stay unreachable for a long time.
func Slow(retryable func(error) bool) *Policy {
	return &Policy{
		Retry: &Retry{
			MaxAttempts: 0,
			Initial:     time.Second,
			Max:         time.Hour,
			Multiplier:  2,
			ShouldRetry: orBreakerOpen(retryable),
		},
		Breaker: breaker(retryable),
	}
}

func breaker(failure func(error) bool) *Breaker {
	b := NewBreaker(breakerThreshold, breakerCooldown)
	b.IsFailure = failure
	return b
}

func orBreakerOpen(retryable func(error) bool) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, ErrBreakerOpen) {
			return true
		}
		return retryable == nil || retryable(err)
	}
}
