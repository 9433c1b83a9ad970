package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerGenerator wraps a Generator with a circuit breaker. After enough
// consecutive backend failures the circuit opens and calls short-circuit
// with ErrCircuitOpen until the cooldown elapses.
type BreakerGenerator struct {
	inner   Generator
	breaker *gobreaker.CircuitBreaker[Reply]
}

var _ Generator = (*BreakerGenerator)(nil)

func NewBreakerGenerator(inner Generator, failures uint32, cooldown time.Duration) *BreakerGenerator {
	settings := gobreaker.Settings{
		Name:    "generator",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("generator circuit state changed")
		},
	}

	return &BreakerGenerator{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[Reply](settings),
	}
}

func (g *BreakerGenerator) Generate(ctx context.Context, req GenerateRequest) (Reply, error) {
	reply, err := g.breaker.Execute(func() (Reply, error) {
		return g.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Reply{}, ErrCircuitOpen
		}
		return Reply{}, fmt.Errorf("engine.BreakerGenerator.Generate: %w", err)
	}
	return reply, nil
}
