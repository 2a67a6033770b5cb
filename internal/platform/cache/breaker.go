package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker guards a remote Cache with a circuit breaker. While the circuit is
// open, reads report a miss and writes are dropped, so callers fall through
// to the database without waiting on a dead server.
type Breaker struct {
	next Cache
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next. The circuit opens after five consecutive failures
// and half-opens after cooldown.
func WithBreaker(name string, next Cache, cooldown time.Duration) *Breaker {
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, err := b.next.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			// A miss is a healthy answer.
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.([]byte)
	if v == nil {
		return nil, ErrMiss
	}
	return v, nil
}

func (b *Breaker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, keys ...string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, keys...)
	})
	return err
}

// Ping bypasses the breaker so health checks see the real server state.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *Breaker) state() string {
	return b.cb.State().String()
}
