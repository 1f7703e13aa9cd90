// Package config validates the process environment once, at boot.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
)

// Config holds the validated environment configuration.
type Config struct {
	// Required variables
	DatabaseURL string
	RedisURL    string

	// Optional variables with defaults
	Port               string
	GoEnv              string
	ConnectURLTemplate string

	// Optional, empty when unset
	AllowedOrigins string
	OTELEndpoint   string
}

// ValidateEnv validates the environment and returns a Config. All problems
// are collected into one error so a misconfigured deploy fails with the
// full list, not the first hit.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	} else if !hasScheme(cfg.DatabaseURL, "postgres", "postgresql") {
		errs = append(errs, fmt.Sprintf("DATABASE_URL must be a postgres:// URL (got '%s')", redactDSN(cfg.DatabaseURL)))
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required")
	} else if !hasScheme(cfg.RedisURL, "redis", "rediss") {
		errs = append(errs, fmt.Sprintf("REDIS_URL must be a redis:// URL (got '%s')", redactDSN(cfg.RedisURL)))
	}

	cfg.Port = getEnvOrDefault("PORT", "3000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.ConnectURLTemplate = getEnvOrDefault("CONNECT_URL_TEMPLATE", fmt.Sprintf("ws://localhost:%s/room/%%s", cfg.Port))
	if !strings.Contains(cfg.ConnectURLTemplate, "%s") {
		errs = append(errs, fmt.Sprintf("CONNECT_URL_TEMPLATE must contain a %%s placeholder for the room id (got '%s')", cfg.ConnectURLTemplate))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// Development reports whether the process runs in development mode.
func (c *Config) Development() bool {
	return c.GoEnv == "development"
}

// Origins returns the allowed CORS origins, nil when unrestricted.
func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ConnectURL renders the client-facing WebSocket URL for a room.
func (c *Config) ConnectURL(roomID string) string {
	return fmt.Sprintf(c.ConnectURLTemplate, roomID)
}

// LogValidated logs the effective configuration with credentials redacted.
// Call it after the logger is initialized.
func (c *Config) LogValidated(ctx context.Context) {
	logging.Info(ctx, "environment configuration validated",
		zap.String("port", c.Port),
		zap.String("database_url", redactDSN(c.DatabaseURL)),
		zap.String("redis_url", redactDSN(c.RedisURL)),
		zap.String("go_env", c.GoEnv),
		zap.String("connect_url_template", c.ConnectURLTemplate),
		zap.String("allowed_origins", c.AllowedOrigins),
		zap.String("otel_endpoint", c.OTELEndpoint),
	)
}

// getEnvOrDefault returns the value of the environment variable or a
// default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// hasScheme checks whether a URL carries one of the given schemes.
func hasScheme(raw string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(raw, s+"://") {
			return true
		}
	}
	return false
}

// redactDSN masks the password of a connection URL so it can be logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
