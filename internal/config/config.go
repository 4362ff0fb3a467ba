package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/warning-calendar-service/internal/geo"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr         string
	CORSAllowOrigins []string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// Cycle configuration.
	CheckInterval   time.Duration
	RadiusKm        float64
	CycleBackoff    time.Duration
	Lookahead       time.Duration
	DispatchWorkers int

	// GeoSphere warning feed.
	GeosphereURL        string
	GeosphereTimeout    time.Duration
	GeosphereRPS        float64
	GeosphereProjection geo.Projection
	GeosphereLang       string

	// Persistence.
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Calendar requests are published to Kafka.
	KafkaBrokers       []string
	KafkaCalendarTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// OAuth token endpoint used to refresh expired calendar credentials.
	// Refresh is disabled when OAuthClientID is empty.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	intervalSecs, err := strconv.Atoi(sharedcfg.EnvOrDefault("WARNING_CHECK_INTERVAL", "300"))
	if err != nil || intervalSecs <= 0 {
		return nil, errors.New("invalid WARNING_CHECK_INTERVAL")
	}

	radius, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("WARNING_RADIUS_KM", "50.0"), 64)
	if err != nil || radius <= 0 {
		return nil, errors.New("invalid WARNING_RADIUS_KM")
	}

	backoff, err := parsePositiveDuration("CYCLE_BACKOFF", "60s")
	if err != nil {
		return nil, err
	}
	lookahead, err := parsePositiveDuration("LOOKAHEAD_WINDOW", "168h")
	if err != nil {
		return nil, err
	}
	geosphereTimeout, err := parsePositiveDuration("GEOSPHERE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	workers, err := strconv.Atoi(sharedcfg.EnvOrDefault("DISPATCH_WORKERS", "4"))
	if err != nil || workers <= 0 {
		return nil, errors.New("invalid DISPATCH_WORKERS")
	}

	rps, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("GEOSPHERE_RPS", "5"), 64)
	if err != nil || rps <= 0 {
		return nil, errors.New("invalid GEOSPHERE_RPS")
	}

	projection, err := geo.ParseProjection(sharedcfg.EnvOrDefault("GEOSPHERE_PROJECTION", string(geo.WebMercator)))
	if err != nil {
		return nil, fmt.Errorf("invalid GEOSPHERE_PROJECTION: %w", err)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		CORSAllowOrigins: splitList(sharedcfg.EnvOrDefault("CORS_ALLOW_ORIGINS", "*")),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		CheckInterval:   time.Duration(intervalSecs) * time.Second,
		RadiusKm:        radius,
		CycleBackoff:    backoff,
		Lookahead:       lookahead,
		DispatchWorkers: workers,

		GeosphereURL:        strings.TrimRight(sharedcfg.EnvOrDefault("GEOSPHERE_API_URL", "https://warnungen.zamg.at/wsapp/api"), "/"),
		GeosphereTimeout:    geosphereTimeout,
		GeosphereRPS:        rps,
		GeosphereProjection: projection,
		GeosphereLang:       sharedcfg.EnvOrDefault("GEOSPHERE_LANG", "en"),

		StoreDriver: strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "warncal.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaCalendarTopic: sharedcfg.EnvOrDefault("KAFKA_CALENDAR_TOPIC", "calendar-events"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		OAuthTokenURL:     sharedcfg.EnvOrDefault("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
	}

	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaCalendarTopic == "" {
		return nil, errors.New("KAFKA_CALENDAR_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	if cfg.OAuthClientID != "" && cfg.OAuthClientSecret == "" {
		return nil, errors.New("OAUTH_CLIENT_SECRET is required when OAUTH_CLIENT_ID is set")
	}

	return cfg, nil
}

// RefreshEnabled reports whether expired credentials can be refreshed.
func (c *Config) RefreshEnabled() bool {
	return c.OAuthClientID != ""
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
