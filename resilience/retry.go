package resilience

import (
	"context"
	"fmt"
	"time"
)

// Retry reruns a failing operation with exponentially growing delays.
// The settings are shared; each call to Do keeps its own attempt counter and delay.
type Retry struct {
	MaxAttempts int // 0 retries forever
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// ShouldRetry picks the retryable errors; nil retries everything
	ShouldRetry func(error) bool
	// OnRetry is called before each backoff wait
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(context.Context, time.Duration) error
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempts run out
func (r *Retry) Do(ctx context.Context, op func(context.Context) error) error {
	delay := r.Initial
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry abandoned before attempt %d: %w", attempt, err)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if r.ShouldRetry != nil && !r.ShouldRetry(err) {
			return err
		}
		if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if serr := r.wait(ctx, delay); serr != nil {
			return fmt.Errorf("retry abandoned after %d attempts (%s): %w", attempt, serr.Error(), err)
		}
		delay = r.next(delay)
	}
}

func (r *Retry) next(d time.Duration) time.Duration {
	m := r.Multiplier
	if m < 1 {
		m = 2
	}
	n := time.Duration(float64(d) * m)
	if r.Max > 0 && (n > r.Max || n <= 0) {
		n = r.Max
	}
	return n
}

func (r *Retry) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
