package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/dispatch-service/internal/config"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"DATABASE_URL", "REDIS_URL", "DISPATCH_HTTP_PORT", "DISPATCH_GRPC_PORT", "DISPATCH_CONFIG",
		"LOG_LEVEL", "DATABASE_MAX_CONNS", "OFFER_TTL_HOURS", "MAX_ESCALATION_ROUNDS", "HOLD_TTL_HOURS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresBackendsUnlessMemory(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/dispatch")
	_, err = config.Load(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	cfg, err := config.Load(true)
	require.NoError(t, err)
	assert.True(t, cfg.Memory)
	assert.Equal(t, "8083", cfg.HTTPPort)
	assert.Equal(t, "9093", cfg.GRPCPort)
	assert.Equal(t, config.DefaultTuning(), cfg.Tuning)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFER_TTL_HOURS", "6")
	t.Setenv("MAX_ESCALATION_ROUNDS", "5")
	t.Setenv("HOLD_TTL_HOURS", "24")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load(true)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, cfg.Tuning.OfferTTL())
	assert.Equal(t, 5, cfg.Tuning.MaxEscalationRounds)
	assert.Equal(t, 24*time.Hour, cfg.Tuning.HoldTTL())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Zero(t, cfg.DatabaseMaxConns)

	t.Setenv("DATABASE_MAX_CONNS", "16")
	cfg, err = config.Load(true)
	require.NoError(t, err)
	assert.EqualValues(t, 16, cfg.DatabaseMaxConns)

	t.Setenv("HOLD_TTL_HOURS", "zero")
	_, err = config.Load(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOLD_TTL_HOURS")
}

func TestLoadTuning_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	yaml := `
autoAcceptCountries: [PT]
urgentScoreThreshold: 0.8
backoffBase: 500ms
shifts:
  - {name: early, start: 28, end: 40}
weights: {capacity: 0.5, quality: 0.5, distance: 0}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	tuning, err := config.LoadTuning(path)
	require.NoError(t, err)
	require.NoError(t, tuning.Validate())

	assert.Equal(t, []string{"PT"}, tuning.AutoAcceptCountries)
	assert.InDelta(t, 0.8, tuning.UrgentScoreThreshold, 1e-9)
	assert.Equal(t, 500*time.Millisecond, tuning.BackoffBase)
	assert.Equal(t, []config.Shift{{Name: "early", Start: 28, End: 40}}, tuning.Shifts)
	// Untouched keys keep their defaults.
	assert.Equal(t, 48, tuning.HoldTTLHours)
	assert.Equal(t, "@every 15m", tuning.SweepInterval)
}

func TestTuningValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Tuning)
		want   string
	}{
		{"weights sum", func(t *config.Tuning) { t.Weights.Distance = 0.5 }, "sum to 1"},
		{"shift bounds", func(t *config.Tuning) { t.Shifts = []config.Shift{{Name: "x", Start: 90, End: 100}} }, "out of range"},
		{"duplicate shift", func(t *config.Tuning) { t.Shifts = append(t.Shifts, t.Shifts[0]) }, "unique"},
		{"threshold", func(t *config.Tuning) { t.UrgentScoreThreshold = 1.5 }, "urgentScoreThreshold"},
		{"backoff", func(t *config.Tuning) { t.BackoffCap = t.BackoffBase / 2 }, "backoff"},
		{"sweep", func(t *config.Tuning) { t.SweepInterval = "every quarter" }, "sweepInterval"},
		{"rounds", func(t *config.Tuning) { t.MaxEscalationRounds = 0 }, "maxEscalationRounds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tuning := config.DefaultTuning()
			tc.mutate(&tuning)
			err := tuning.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	assert.NoError(t, config.DefaultTuning().Validate())
}
