package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without running the operation while the breaker is open
var ErrBreakerOpen = errors.New("circuit breaker is open")

// State is the breaker state
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker counts consecutive failures shared by every caller using it.
// After Threshold failures it rejects calls for Cooldown, then lets a single trial through.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration
	// IsFailure decides which errors count against the breaker; nil counts every error
	IsFailure func(error) bool
	// OnReject is called whenever a call is refused while open
	OnReject func()

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
	now      func() time.Time
}

// NewBreaker returns a closed breaker
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		now:       time.Now,
	}
}

// State reports the current state, moving open to half-open once the cooldown has elapsed
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Failures is the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs op if the breaker allows it and records the outcome
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		if b.OnReject != nil {
			b.OnReject()
		}
		return ErrBreakerOpen
	}

	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) advance() {
	if b.now == nil {
		b.now = time.Now
	}
	if b.state == Open && b.now().Sub(b.openedAt) >= b.Cooldown {
		b.state = HalfOpen
		b.trial = false
	}
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case Open:
		return false
	case HalfOpen:
		// one trial at a time
		if b.trial {
			return false
		}
		b.trial = true
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && (b.IsFailure == nil || b.IsFailure(err))
	if !failed {
		// an error the breaker does not track still proves the target answered
		b.state = Closed
		b.failures = 0
		b.trial = false
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.Threshold {
		b.state = Open
		b.openedAt = b.now()
		b.trial = false
	}
}
