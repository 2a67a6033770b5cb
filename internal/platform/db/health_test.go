package db

import (
	"context"
	"errors"
	"testing"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPoolStats_Fields(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}
	if stats.TotalConns != 10 || stats.MaxConns != 20 || !stats.Healthy {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPinger_Adapter(t *testing.T) {
	var p Pinger = pingerFunc(func(context.Context) error { return errors.New("down") })
	if err := p.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
