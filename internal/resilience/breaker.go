// Package resilience provides the circuit-breaker wrapper shared by the
// ticket system, SCM and messaging adapters; the LLM adapters do not use it. Grounded
// on the pack's own breaker wrapper: a thin adapter over
// github.com/sony/gobreaker/v2 that preserves a plain Execute(ctx, fn)
// signature for callers.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned by Execute when the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Config configures a Breaker.
type Config struct {
	Name              string
	MaxFailures       uint32
	Timeout           time.Duration
	HalfOpenMaxProbes uint32
}

// DefaultConfig returns the defaults used by external adapters unless a
// call site overrides them: five consecutive failures trips the breaker,
// 30s before a half-open probe.
func DefaultConfig(name string) Config {
	return Config{Name: name, MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMaxProbes: 3}
}

// Breaker wraps a gobreaker.CircuitBreaker[any] behind an Execute method so
// call sites never touch gobreaker types directly.
type Breaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

// New constructs a Breaker from cfg.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes == 0 {
		cfg.HalfOpenMaxProbes = 3
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxProbes,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &Breaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn under the breaker's protection. ctx is honored by fn
// itself (deadlines, cancellation); the breaker only tracks success/failure.
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	_, err := b.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
