package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BUSINESS_RULES_FILE", "")
	t.Setenv("LOW_STOCK_THRESHOLD", "")
	t.Setenv("SELL_LOCK_DAYS", "")
	t.Setenv("DB_LOCK_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Equal(t, 8*24*time.Hour, cfg.Business.SellLock())
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SELL_LOCK_DAYS", "3")
	t.Setenv("CACHE_TTL_SECONDS", "90")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Business.SellLockDays)
	assert.Equal(t, 90*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.LockTimeout)
}

func TestLoadRejectsBadLockTimeout(t *testing.T) {
	t.Setenv("DB_LOCK_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestBusinessRulesOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("low_stock_threshold: 25\nidempotency_ttl: 2h\n"), 0o600))
	t.Setenv("BUSINESS_RULES_FILE", path)
	t.Setenv("SELL_LOCK_DAYS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Business.LowStockThreshold)
	assert.Equal(t, 8, cfg.Business.SellLockDays, "fields absent from the file keep their env value")
	assert.Equal(t, 2*time.Hour, cfg.Business.IdempotencyTTL)
}

func TestBusinessRulesOverlayValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sell_lock_days: -1\n"), 0o600))
	t.Setenv("BUSINESS_RULES_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
