package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"mnemos/internal/logging"
)

// ErrOverloaded is returned when the bounded worker pool is saturated.
// Callers should treat it as retryable.
var ErrOverloaded = errors.New("embedding: worker pool saturated")

// GuardedEngine wraps an Engine with a circuit breaker and a bounded
// concurrency gate. Model calls are suspension points on the hot ingestion
// path; the breaker sheds load when the backend is failing and the semaphore
// rejects overflow instead of queueing unboundedly.
type GuardedEngine struct {
	inner   Engine
	breaker *gobreaker.CircuitBreaker
	gate    *semaphore.Weighted
}

// NewGuardedEngine wraps engine with a breaker and at most maxInflight
// concurrent calls.
func NewGuardedEngine(engine Engine, maxInflight int) *GuardedEngine {
	if maxInflight <= 0 {
		maxInflight = 8
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-" + engine.Name(),
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(logging.CategoryEmbedding).Warn("Breaker %s: %s -> %s", name, from, to)
		},
	})
	return &GuardedEngine{
		inner:   engine,
		breaker: cb,
		gate:    semaphore.NewWeighted(int64(maxInflight)),
	}
}

// Embed generates an embedding through the breaker and gate.
func (g *GuardedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !g.gate.TryAcquire(1) {
		return nil, ErrOverloaded
	}
	defer g.gate.Release(1)

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// EmbedBatch generates embeddings through the breaker and gate. A batch
// holds one slot regardless of size; the inner engine chunks as needed.
func (g *GuardedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !g.gate.TryAcquire(1) {
		return nil, ErrOverloaded
	}
	defer g.gate.Release(1)

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

// Dimensions returns the inner engine dimensionality.
func (g *GuardedEngine) Dimensions() int { return g.inner.Dimensions() }

// Name returns the inner engine name.
func (g *GuardedEngine) Name() string { return g.inner.Name() }
