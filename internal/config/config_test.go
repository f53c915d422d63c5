package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("APP_BASE_URL", "https://api.snapfuse.test/")
	t.Setenv("DATABASE_URL", "postgres://localhost/snapfuse")
	t.Setenv("CLERK_SECRET_KEY", "sk_test_clerk")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_stripe")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("FAL_KEY", "fal-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.snapfuse.test", cfg.AppBaseURL)
	assert.Equal(t, "https://queue.fal.run", cfg.FalBaseURL)
	assert.Equal(t, 5, cfg.SignupCredits)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, 2*time.Hour, cfg.JobStaleAfter)
	assert.Equal(t, "@every 5m", cfg.JobSweepSchedule)
	assert.Empty(t, cfg.TrustedProxies)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadTrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.5"}, cfg.TrustedProxies)
}

func TestLoadStripePrices(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_PRICE_PRO", "price_pro")
	t.Setenv("STRIPE_PRICE_TOPUP_LARGE", "price_large")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "price_pro", cfg.StripePrices.Pro)
	assert.Equal(t, "price_large", cfg.StripePrices.TopupLarge)
	assert.Empty(t, cfg.StripePrices.Starter)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("FAL_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}
