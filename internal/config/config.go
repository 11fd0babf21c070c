package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrationsPath     string

	DBMaxOpenConns int
	DBMaxIdleConns int

	PromoCacheTTL     time.Duration
	ShipRulesCacheTTL time.Duration
	HoldTTL           time.Duration
	IdempotencyTTL    time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	RateLimitGlobal        string
	PromoValidateLimit     int64
	PromoValidateWindow    time.Duration
	DefaultStockLocation   string
	LowStockThreshold      int64
	MaxBodyBytes           int64
	SecurityHeaders        bool
	PprofEnabled           bool
	OTLPEndpoint           string
	MetricsNamespace       string
	ShutdownGracePeriod    time.Duration
	WorkerConcurrency      int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrationsPath:     valueOrDefault(k.String("MIGRATIONS_PATH"), "migrations"),

		DBMaxOpenConns: parseInt(k.String("DB_MAX_OPEN_CONNS"), 0),
		DBMaxIdleConns: parseInt(k.String("DB_MAX_IDLE_CONNS"), 0),

		PromoCacheTTL:     parseDuration(k.String("PROMO_CACHE_TTL"), "5m"),
		ShipRulesCacheTTL: parseDuration(k.String("SHIP_RULES_CACHE_TTL"), "5m"),
		HoldTTL:           parseDuration(k.String("STOCK_HOLD_TTL"), "15m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		RateLimitGlobal:      valueOrDefault(k.String("RATE_LIMIT_GLOBAL"), "300-M"),
		PromoValidateLimit:   int64(parseInt(k.String("PROMO_VALIDATE_LIMIT"), 30)),
		PromoValidateWindow:  parseDuration(k.String("PROMO_VALIDATE_WINDOW"), "1m"),
		DefaultStockLocation: valueOrDefault(k.String("DEFAULT_STOCK_LOCATION"), "default"),
		LowStockThreshold:    int64(parseInt(k.String("LOW_STOCK_THRESHOLD"), 3)),
		MaxBodyBytes:         int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		SecurityHeaders:      valueOrDefault(k.String("SECURITY_HEADERS"), "true") != "false",
		PprofEnabled:         parseBool(k.String("PPROF_ENABLED")),
		OTLPEndpoint:         strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		MetricsNamespace:     valueOrDefault(k.String("METRICS_NAMESPACE"), "boutique"),
		ShutdownGracePeriod:  parseDuration(k.String("SHUTDOWN_GRACE_PERIOD"), "15s"),
		WorkerConcurrency:    parseInt(k.String("WORKER_CONCURRENCY"), 10),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
