package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv()

	tf := cfg.TradeFinder
	assert.Equal(t, 120, tf.LookbackMinutes)
	assert.Equal(t, 50, tf.CandleCount)
	assert.Equal(t, []string{"5m", "15m", "1h"}, tf.Timeframes)
	assert.Equal(t, 4*time.Hour, tf.ExpiryWindow())
	assert.Equal(t, 80, tf.HighThreshold)
	assert.Equal(t, 60, tf.MediumThreshold)
	assert.Equal(t, "@every 5m", tf.CycleSchedule)
	assert.Equal(t, "America/New_York", tf.ReferenceZone)

	assert.Equal(t, "@every 1m", cfg.Lifecycle.ExpirySchedule)
	assert.Equal(t, "@every 15m", cfg.Lifecycle.StatsSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.StatsWindow)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRADE_FINDER_SYMBOLS", " nq, ,es ,CL")
	t.Setenv("TRADE_FINDER_LOOKBACK_MINUTES", "90")
	t.Setenv("TRADE_FINDER_ENABLED", "false")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("LLM_REQUEST_TIMEOUT", "15s")
	t.Setenv("CONVERSATION_TTL", "not-a-duration")
	t.Setenv("DB_PORT", "abc")

	cfg := LoadFromEnv()

	assert.Equal(t, []string{"nq", "es", "CL"}, cfg.TradeFinder.Symbols)
	assert.Equal(t, 90, cfg.TradeFinder.LookbackMinutes)
	assert.False(t, cfg.TradeFinder.Enabled)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.ConversationTTL)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"medium above high", func(c *Config) { c.TradeFinder.MediumThreshold = 90 }},
		{"zero lookback", func(c *Config) { c.TradeFinder.LookbackMinutes = 0 }},
		{"zero candle count", func(c *Config) { c.TradeFinder.CandleCount = 0 }},
		{"zero expiry", func(c *Config) { c.TradeFinder.ExpiryHours = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadFromEnv()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
