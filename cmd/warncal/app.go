package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/warning-calendar-service/internal/account"
	httpadapter "github.com/couchcryptid/warning-calendar-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/warning-calendar-service/internal/adapter/kafka"
	"github.com/couchcryptid/warning-calendar-service/internal/adapter/mapbox"
	"github.com/couchcryptid/warning-calendar-service/internal/adapter/memory"
	"github.com/couchcryptid/warning-calendar-service/internal/adapter/postgres"
	"github.com/couchcryptid/warning-calendar-service/internal/adapter/sqlite"
	"github.com/couchcryptid/warning-calendar-service/internal/config"
	"github.com/couchcryptid/warning-calendar-service/internal/credential"
	"github.com/couchcryptid/warning-calendar-service/internal/cycle"
	"github.com/couchcryptid/warning-calendar-service/internal/dispatch"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/feed"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

const oauthTimeout = 10 * time.Second

// store is what every persistence driver provides.
type store interface {
	domain.UserStore
	domain.Ledger
	io.Closer
}

type memoryStore struct {
	*memory.Store
}

func (memoryStore) Close() error { return nil }

// app holds the wired components shared by the subcommands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *observability.Metrics
	store        store
	accounts     *account.Service
	calendar     *kafkaadapter.Calendar
	orchestrator *cycle.Orchestrator
}

// newAccounts wires only what user management needs.
func newAccounts(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	metrics := observability.NewMetrics()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var geocoder account.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		store:    st,
		accounts: account.NewService(st, st, geocoder, logger),
	}, nil
}

// newApp wires the full warning pipeline on top of newAccounts.
func newApp(ctx context.Context) (*app, error) {
	a, err := newAccounts(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	fetcher := feed.NewFetcher(feed.Options{
		BaseURL:    cfg.GeosphereURL,
		Lang:       cfg.GeosphereLang,
		Timeout:    cfg.GeosphereTimeout,
		RPS:        cfg.GeosphereRPS,
		Projection: cfg.GeosphereProjection,
	}, a.metrics, a.logger)

	var refresher credential.Refresher
	if cfg.RefreshEnabled() {
		refresher = credential.NewTokenRefresher(cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret, oauthTimeout)
	} else {
		a.logger.Info("credential refresh disabled")
	}
	credentials := credential.NewProvider(refresher, a.store, a.logger)

	a.calendar = kafkaadapter.NewCalendar(cfg, a.logger)
	dispatcher := dispatch.New(a.store, a.calendar, credentials, cfg.RadiusKm, a.metrics, a.logger)

	a.orchestrator = cycle.New(a.store, fetcher, dispatcher, cycle.Options{
		Lookahead: cfg.Lookahead,
		Workers:   cfg.DispatchWorkers,
	}, a.metrics, a.logger)

	a.logger.Info("service configured",
		"store", cfg.StoreDriver,
		"interval", cfg.CheckInterval,
		"radius_km", cfg.RadiusKm,
		"lookahead", cfg.Lookahead,
		"workers", cfg.DispatchWorkers,
	)
	return a, nil
}

// newLogger builds the process logger and makes it the slog default, so
// package-level slog calls carry the same format and service attribute.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "warncal")
	slog.SetDefault(logger)
	return logger
}

func (a *app) httpServer(ready sharedobs.ReadinessChecker) *httpadapter.Server {
	return httpadapter.NewServer(a.cfg.HTTPAddr, a.cfg.CORSAllowOrigins, ready, a.accounts, a.orchestrator, a.logger)
}

func (a *app) close() {
	if a.calendar != nil {
		if err := a.calendar.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; users and history are lost on exit")
		return memoryStore{memory.NewStore()}, nil
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	default:
		st, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	}
}
