package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	// Explicit settings win.
	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{DatabaseURL: "postgres://x", Payment: PaymentConfig{Currency: " ngn "}}
	}

	cfg := valid()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "NGN", cfg.Payment.Currency)

	cfg = valid()
	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.validate(), "database URL is required")

	cfg = valid()
	cfg.Payment.URL = "https://pay.example"
	assert.ErrorContains(t, cfg.validate(), "payments require redis")

	cfg = valid()
	cfg.Payment.Currency = "NAIRA"
	assert.ErrorContains(t, cfg.validate(), "invalid payment currency")
}
