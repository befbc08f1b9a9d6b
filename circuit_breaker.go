package extend

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/extend/messaging"
)

const (
	defaultBreakerMaxRequests = 1
	defaultBreakerTimeout     = 10 * time.Second
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for addresses.
// A breaker opens after at least 3 attempts of which 60% failed, and lets
// maxRequests attempts through once timeout has passed.
//
// Redirects and canceled attempts do not count as failures.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[*messaging.Connection] {
	return func(addr string) *gobreaker.CircuitBreaker[*messaging.Connection] {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: connectSucceeded,
		}
		return gobreaker.NewCircuitBreaker[*messaging.Connection](settings)
	}
}

// DefaultCircuitBreaker is the breaker used when Config.NewCircuitBreaker is nil.
func DefaultCircuitBreaker(addr string) *gobreaker.CircuitBreaker[*messaging.Connection] {
	return NewCircuitBreakerConfig(defaultBreakerMaxRequests, 0, defaultBreakerTimeout)(addr)
}

// connectSucceeded reports whether err says the address is healthy: a
// redirect is a valid answer and a canceled attempt says nothing.
func connectSucceeded(err error) bool {
	if err == nil {
		return true
	}
	var redirect *messaging.RedirectError
	if errors.As(err, &redirect) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// BreakerStats describes the circuit breaker of one address.
type BreakerStats struct {
	Addr   string
	State  gobreaker.State
	Counts gobreaker.Counts
}
