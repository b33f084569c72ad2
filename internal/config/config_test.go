package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SeedAdminPassword != "" {
		t.Fatalf("expected empty SEED_ADMIN_PASSWORD when unset, got %q", cfg.SeedAdminPassword)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ACCESS_TOKEN_TTL_MINUTES", "SALE_TX_MAX_ATTEMPTS", "PRODUCT_CACHE_TTL_SECONDS", "LOG_LEVEL", "LOG_FORMAT", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 1440, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 3, cfg.SaleTxMaxAttempts)
	assert.Equal(t, 60, cfg.ProductCacheTTLSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("SALE_TX_MAX_ATTEMPTS", "zero")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("PRODUCT_CACHE_TTL_SECONDS", "15")

	cfg := Load()
	assert.Equal(t, 3, cfg.SaleTxMaxAttempts)
	assert.Equal(t, 1440, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 15, cfg.ProductCacheTTLSeconds)
}
