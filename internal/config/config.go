package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "VTUPlug"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 30 * 24 * time.Hour
	defaultProviderTimeout = 30 * time.Second
	defaultSweepInterval   = 2 * time.Minute
	defaultMaxReconciles   = 10
	defaultReconcileWindow = 6 * time.Hour
	defaultStaleAfter      = 5 * time.Minute
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	RefreshSecret  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Provider  ProviderConfig
	Reconcile ReconcileConfig
}

// ProviderConfig identifies the upstream VTU aggregator account.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ReconcileConfig bounds the background reconciliation sweep.
type ReconcileConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Window      time.Duration
	StaleAfter  time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		RefreshSecret:  getEnv("JWT_REFRESH_SECRET", "dev-refresh-secret"),
		AccessTTL:      defaultAccessTTL,
		RefreshTTL:     defaultRefreshTTL,
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		Provider: ProviderConfig{
			BaseURL: getEnv("PROVIDER_BASE_URL", "https://smeplug.ng/api"),
			APIKey:  os.Getenv("PROVIDER_API_KEY"),
			Timeout: defaultProviderTimeout,
		},
		Reconcile: ReconcileConfig{
			Interval:    defaultSweepInterval,
			MaxAttempts: defaultMaxReconciles,
			Window:      defaultReconcileWindow,
			StaleAfter:  defaultStaleAfter,
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationEnv("REFRESH_TOKEN_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.Provider.Timeout, err = durationEnv("PROVIDER_TIMEOUT", cfg.Provider.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.Interval, err = durationEnv("RECONCILE_INTERVAL", cfg.Reconcile.Interval); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.Window, err = durationEnv("RECONCILE_WINDOW", cfg.Reconcile.Window); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile.StaleAfter, err = durationEnv("RECONCILE_STALE_AFTER", cfg.Reconcile.StaleAfter); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("RECONCILE_MAX_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECONCILE_MAX_ATTEMPTS: %w", err)
		}
		cfg.Reconcile.MaxAttempts = attempts
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.Provider.APIKey == "" {
			return Config{}, fmt.Errorf("PROVIDER_API_KEY must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a development environment, where
// Postgres and Redis may be replaced by in-memory backends.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
