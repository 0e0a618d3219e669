package httpx

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBreakerCooldown  = 60 * time.Second
	defaultBreakerMaxFails  = 5
	defaultHalfOpenRequests = 2
)

type CircuitBreaker interface {
	Execute(fn func() error) error
}

// BreakerSettings tunes one breaker. Zero fields fall back to package
// defaults so config sections only need to set what they override.
type BreakerSettings struct {
	// Cooldown is how long a tripped breaker stays open before letting
	// half-open requests through again.
	Cooldown time.Duration
	// MaxFailures is the consecutive-failure count that trips the breaker.
	MaxFailures uint32
	// HalfOpenRequests caps how many requests pass while half-open.
	HalfOpenRequests uint32
}

type circuitBreakerWrapper struct {
	breaker *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(name string, s BreakerSettings) CircuitBreaker {
	if s.Cooldown <= 0 {
		s.Cooldown = defaultBreakerCooldown
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = defaultBreakerMaxFails
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = defaultHalfOpenRequests
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
	}
	return &circuitBreakerWrapper{
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *circuitBreakerWrapper) Execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", g.breaker.Name(), err)
	}
	return nil
}
