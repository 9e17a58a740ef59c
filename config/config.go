// Package config loads process configuration from the environment and an optional app.env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	RedisAddr          string        `mapstructure:"REDIS_ADDR"`
	NatsURL            string        `mapstructure:"NATS_URL"`
	HTTPAddr           string        `mapstructure:"HTTP_ADDR"`
	GRPCAddr           string        `mapstructure:"GRPC_ADDR"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	Environment        string        `mapstructure:"ENVIRONMENT"`
	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	UnitCacheTTL       time.Duration `mapstructure:"UNIT_CACHE_TTL"`
	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
}

var defaults = map[string]any{
	"DB_MAX_CONNS":         10,
	"HTTP_ADDR":            ":8080",
	"GRPC_ADDR":            ":9090",
	"LOG_LEVEL":            "info",
	"ENVIRONMENT":          "development",
	"CORS_ALLOWED_ORIGINS": "*",
	"RATE_LIMIT_RPS":       20,
	"RATE_LIMIT_BURST":     40,
	"UNIT_CACHE_TTL":       "5m",
	"OUTBOX_POLL_INTERVAL": "1s",
	"OUTBOX_BATCH_SIZE":    50,
	"OUTBOX_MAX_ATTEMPTS":  10,
}

var keys = []string{
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"REDIS_ADDR",
	"NATS_URL",
	"HTTP_ADDR",
	"GRPC_ADDR",
	"JWT_SECRET",
	"LOG_LEVEL",
	"ENVIRONMENT",
	"CORS_ALLOWED_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"UNIT_CACHE_TTL",
	"OUTBOX_POLL_INTERVAL",
	"OUTBOX_BATCH_SIZE",
	"OUTBOX_MAX_ATTEMPTS",
}

// Load reads path/app.env when present and lets environment variables override it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// bound explicitly so Unmarshal sees them without a file
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read app.env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required keys and numeric bounds.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required %s", strings.Join(missing, ", "))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive, got rps=%v burst=%d", c.RateLimitRPS, c.RateLimitBurst)
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("config: outbox batch size and max attempts must be positive")
	}
	return nil
}

// Production reports whether the process runs in the production environment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
