package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type GuardSettings struct {
	// RatePerSecond caps outbound calls; zero disables the limiter.
	RatePerSecond    float64
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(name, from, to string)
}

// Guard wraps a Model with a client-side rate limiter and a circuit breaker
// so a failing provider is not hammered by every report in flight.
type Guard struct {
	inner   Model
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuard(inner Model, settings GuardSettings, logger *logrus.Logger) *Guard {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	g := &Guard{inner: inner}
	if settings.RatePerSecond > 0 {
		burst := int(settings.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(settings.RatePerSecond), burst)
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + inner.Provider(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("llm circuit breaker state changed")
			if settings.OnStateChange != nil {
				settings.OnStateChange(name, from.String(), to.String())
			}
		},
	})
	return g
}

func (g *Guard) Provider() string { return g.inner.Provider() }
func (g *Guard) Name() string     { return g.inner.Name() }

func (g *Guard) Generate(ctx context.Context, req Request) (Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("llm rate limiter: %w", err)
		}
	}
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Generate(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return result.(Response), nil
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() string {
	return g.breaker.State().String()
}
