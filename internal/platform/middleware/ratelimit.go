package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
	// Skipper exempts requests, typically health probes.
	Skipper func(echo.Context) bool
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           3 * time.Minute,
	}
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterStore holds one limiter per client key.
type limiterStore struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	return &limiterStore{
		clients: make(map[string]*client),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.clients[key]; ok {
		c.seen = now
		return c.lim
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &client{lim: l, seen: now}
	return l
}

// sweep drops limiters idle for longer than idleTTL.
func (s *limiterStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleTTL)
	for key, c := range s.clients {
		if c.seen.Before(cutoff) {
			delete(s.clients, key)
		}
	}
}

// RateLimit returns a rate limiting middleware keyed on client IP, and on
// the token's tenant when authentication has already run.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	var mu sync.Mutex
	lastSweep := time.Now()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			mu.Lock()
			if time.Since(lastSweep) > store.idleTTL {
				lastSweep = time.Now()
				mu.Unlock()
				store.sweep()
			} else {
				mu.Unlock()
			}

			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			lim := store.get(key)
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)

			res := lim.Reserve()
			if !res.OK() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				retry := int(delay/time.Second) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
