package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/db"
)

// TenantLister enumerates the tenants a background job should visit.
type TenantLister func(ctx context.Context) ([]string, error)

// Reconciler recomputes every provider's patient counter from the confirmed
// appointments. It repairs the drift left by completions and by writes that
// bypassed the service.
type Reconciler struct {
	capacity  CapacityRepository
	uow       UnitOfWork
	directory DirectoryInvalidator
	logger    zerolog.Logger
}

func NewReconciler(capacity CapacityRepository, uow UnitOfWork, directory DirectoryInvalidator, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		capacity:  capacity,
		uow:       uow,
		directory: directory,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run reconciles the tenant in ctx and returns the corrected drifts.
func (r *Reconciler) Run(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	err := r.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		drifts, err = r.capacity.Reconcile(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, d := range drifts {
		r.logger.Warn().
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("provider_id", d.ProviderID.String()).
			Int("stored", d.Stored).
			Int("actual", d.Actual).
			Msg("patient counter drift corrected")
	}
	if len(drifts) > 0 {
		r.directory.Invalidate(ctx)
	}
	return drifts, nil
}

// RunAll reconciles every tenant and returns the number of corrected
// counters. A failing tenant is logged and skipped; the returned error joins
// every failure so callers can report a partial run.
func (r *Reconciler) RunAll(ctx context.Context, tenants TenantLister) (int, error) {
	ids, err := tenants(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("list tenants")
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	var (
		total int
		errs  []error
	)
	for _, id := range ids {
		drifts, err := r.Run(db.WithTenant(ctx, id))
		if err != nil {
			r.logger.Error().Err(err).Str("tenant_id", id).Msg("reconcile tenant")
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		total += len(drifts)
	}
	return total, errors.Join(errs...)
}

// RunPeriodic calls RunAll every interval until ctx is cancelled.
func (r *Reconciler) RunPeriodic(ctx context.Context, interval time.Duration, tenants TenantLister) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("capacity reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("capacity reconciler stopped")
			return
		case <-ticker.C:
			// Failures are already logged per tenant.
			_, _ = r.RunAll(ctx, tenants)
		}
	}
}
