package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"grocerp/backend/internal/cache"
	"grocerp/backend/internal/config"
	"grocerp/backend/internal/httpapi"
	"grocerp/backend/internal/metrics"
	"grocerp/backend/internal/notify"
	"grocerp/backend/internal/service"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/store/memory"
	pgstore "grocerp/backend/internal/store/postgres"
)

// app holds the wired HTTP handler and everything that must be released on
// shutdown, in release order.
type app struct {
	handler http.Handler
	closers []func(ctx context.Context) error
	logger  zerolog.Logger
}

func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, migrate bool) (*app, error) {
	a := &app{logger: logger}
	reg := metrics.New()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		repo = pg
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		logger.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("repository ready")
	}

	dashboardCache := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), logger)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			dashboardCache = redisCache
			a.closers = append(a.closers, func(context.Context) error { return redisCache.Close() })
			logger.Info().Str("cache", "redis").Msg("cache ready")
		}
	}

	weightTolerance, err := cfg.WeightTolerance()
	if err != nil {
		return nil, err
	}
	lowStock, err := cfg.LowStock()
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewDispatcher(repo, cfg.NotificationQueueSize, logger.With().Str("component", "notify").Logger(), reg)
	// The dispatcher drains before the repository closes.
	a.closers = append([]func(context.Context) error{dispatcher.Close}, a.closers...)

	svc := service.New(repo, service.Options{
		DefaultBranchID:   cfg.DefaultBranchID,
		WeightTolerance:   weightTolerance,
		LowStockThreshold: lowStock,
		DashboardTTL:      time.Duration(cfg.DashboardTTLSeconds) * time.Second,
		Cache:             dashboardCache,
		Notifier:          dispatcher,
		Metrics:           reg,
		Logger:            logger,
	})
	dispatcher.OnPersisted(svc.NotificationPersisted)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       reg,
		Logger:        logger,
	})

	a.handler = api.Handler()
	return a, nil
}

func (a *app) close(ctx context.Context) {
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			a.logger.Error().Err(err).Msg("close error")
		}
	}
}
