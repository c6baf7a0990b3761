package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/checkout")
	t.Setenv("GATEWAY_PROVIDER", "")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("GATEWAY_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stripe", cfg.GatewayProvider)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 3, cfg.GatewayRetryAttempts)
	assert.Equal(t, "thb", cfg.DefaultCurrency)
	assert.Equal(t, 30*time.Minute, cfg.StaleOrderAfter)
}

func TestValidateMissingKeys(t *testing.T) {
	cfg := &Config{GatewayProvider: "stripe", GatewayRetryAttempts: 3}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")

	cfg = &Config{GatewayProvider: "midtrans", DatabaseURL: "x", GatewayRetryAttempts: 3}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIDTRANS_SERVER_KEY")

	cfg = &Config{GatewayProvider: "paypal", DatabaseURL: "x", GatewayRetryAttempts: 3}
	assert.Error(t, cfg.Validate())
}

func TestGetDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "soon")
	assert.Equal(t, time.Second, getDuration("SOME_TIMEOUT", time.Second))
	t.Setenv("SOME_TIMEOUT", "250ms")
	assert.Equal(t, 250*time.Millisecond, getDuration("SOME_TIMEOUT", time.Second))
}
