package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/config"
	"github.com/careportal/portal/internal/domain/careplan"
	"github.com/careportal/portal/internal/domain/identity"
	"github.com/careportal/portal/internal/domain/scheduling"
	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/cache"
	"github.com/careportal/portal/internal/platform/db"
	"github.com/careportal/portal/internal/platform/middleware"
)

const maxBodySize = "1M"

// app holds the wired server and the background jobs it owns.
type app struct {
	echo       *echo.Echo
	reconciler *scheduling.Reconciler
}

// newApp builds the HTTP server. It does not touch the database until a
// request or job runs.
func newApp(cfg *config.Config, pool *pgxpool.Pool, c cache.Cache, logger zerolog.Logger) *app {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(maxBodySize))

	// Throttle before auth and tenant resolution so rejected requests never
	// take a pooled connection.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.SigningKey(),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.TenantSkipper))

	// Repositories and services
	tx := db.NewTxManager(pool)
	users := identity.NewUserRepoPG(pool)
	directory := identity.NewDirectory(users, c, cfg.ProviderCacheTTL, logger)
	tokens := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.TokenTTL)

	identitySvc := identity.NewService(users, tokens, directory, logger)
	capacity := scheduling.NewCapacityRepoPG(pool)
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), capacity, tx, directory, logger)
	careplanSvc := careplan.NewService(careplan.NewGoalRepoPG(pool), logger)

	// Routes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, map[string]db.Pinger{"cache": c}))

	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterPublicRoutes(e.Group("/auth"))

	apiV1 := e.Group("/api/v1")
	identityHandler.RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	careplan.NewHandler(careplanSvc).RegisterRoutes(apiV1)

	return &app{
		echo:       e,
		reconciler: scheduling.NewReconciler(capacity, tx, directory, logger),
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(false)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	c, closeCache := newCache(ctx, cfg.RedisURL, logger)
	defer closeCache()

	a := newApp(cfg, pool, c, logger)

	if cfg.ReconcileInterval > 0 {
		go a.reconciler.RunPeriodic(ctx, cfg.ReconcileInterval, func(ctx context.Context) ([]string, error) {
			return db.ListTenants(ctx, pool)
		})
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
