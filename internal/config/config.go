// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the dispatch service.
type Config struct {
	HTTPPort    string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string
	LogLevel    slog.Level

	// DatabaseMaxConns caps the pgx pool; 0 keeps the pgxpool default.
	DatabaseMaxConns int32

	// Memory runs against the in-process store with no PostgreSQL or Redis.
	Memory bool

	Tuning Tuning
}

// Load reads .env (if present), the environment and the optional YAML tuning
// file named by DISPATCH_CONFIG, and returns a validated Config.
func Load(memory bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:    envOr("DISPATCH_HTTP_PORT", "8083"),
		GRPCPort:    envOr("DISPATCH_GRPC_PORT", "9093"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Memory:      memory,
	}

	if !memory {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required")
		}
	}

	if s := os.Getenv("DATABASE_MAX_CONNS"); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("DATABASE_MAX_CONNS must be a positive integer, got %q", s)
		}
		cfg.DatabaseMaxConns = int32(n)
	}

	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	tuning, err := LoadTuning(os.Getenv("DISPATCH_CONFIG"))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		name   string
		target *int
	}{
		{"OFFER_TTL_HOURS", &tuning.OfferTTLHours},
		{"MAX_ESCALATION_ROUNDS", &tuning.MaxEscalationRounds},
		{"HOLD_TTL_HOURS", &tuning.HoldTTLHours},
	}
	for _, o := range overrides {
		s := os.Getenv(o.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("%s must be a positive integer, got %q", o.name, s)
		}
		*o.target = v
	}

	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	cfg.Tuning = tuning
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
