package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/cache"
	"github.com/careportal/portal/internal/platform/db"
)

// Directory serves the list of providers accepting new patients. The
// unfiltered list is cached per tenant and dropped whenever a provider's
// capacity or load changes.
type Directory struct {
	users  UserRepository
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewDirectory(users UserRepository, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Directory {
	return &Directory{users: users, cache: c, ttl: ttl, logger: logger}
}

func directoryKey(ctx context.Context) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	return "providers:accepting:" + tenant
}

// Accepting returns providers with a completed profile and a free slot.
// Cache failures degrade to a database read.
func (d *Directory) Accepting(ctx context.Context, specialty string) ([]*ProviderListing, error) {
	if specialty != "" {
		return d.users.ListAcceptingProviders(ctx, specialty)
	}

	key := directoryKey(ctx)
	if raw, err := d.cache.Get(ctx, key); err == nil {
		var items []*ProviderListing
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
		d.logger.Warn().Str("key", key).Msg("discarding undecodable directory cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		d.logger.Warn().Err(err).Str("key", key).Msg("provider directory cache read failed")
	}

	items, err := d.users.ListAcceptingProviders(ctx, "")
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(items); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("provider directory cache write failed")
		}
	}
	return items, nil
}

// Invalidate drops the cached directory for the tenant in ctx.
func (d *Directory) Invalidate(ctx context.Context) {
	key := directoryKey(ctx)
	if err := d.cache.Delete(ctx, key); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("provider directory cache invalidation failed")
	}
}
