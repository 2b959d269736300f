package exchange

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker wraps a circuit breaker around venue calls so a degraded exchange
// fails fast instead of stalling every scan.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// NewBreaker creates a breaker that trips on 3 consecutive failures, or on a
// failure rate above 5% once at least 20 requests have been seen in the
// 60 second window.
func NewBreaker(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. An open or saturated breaker is
// reported as ErrBreakerOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, b.cb.Name())
	}
	return result, err
}

// State reports the breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}
