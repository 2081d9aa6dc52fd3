package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "exchange-service")

	cfg := Load()

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "9095", cfg.MetricsPort)
	assert.Equal(t, "order_matched", cfg.TopicOrderMatched)
	assert.Equal(t, "market_closed_dlq", cfg.TopicMarketClosedDL)
	assert.Equal(t, 29*time.Minute, cfg.BetfairSessionTTL)
	assert.Equal(t, 30*time.Second, cfg.SettlementPollInterval)
	assert.Equal(t, 4, cfg.RecomputeWorkers)
	assert.Equal(t, 500, cfg.RecheckBatch)
}

func TestLoad_SettlementWorkerAndOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "settlement-worker")
	t.Setenv("RECHECK_INTERVAL", "2s")
	t.Setenv("RECHECK_BATCH", "50")
	t.Setenv("SETTLEMENT_PARALLELISM", "3")
	t.Setenv("RECOMPUTE_WORKERS", "zero")
	t.Setenv("ORACLE_CACHE_TTL", "-1s")

	cfg := Load()

	assert.Empty(t, cfg.HTTPPort)
	assert.Equal(t, "9097", cfg.MetricsPort)
	assert.Equal(t, 2*time.Second, cfg.RecheckInterval)
	assert.Equal(t, 50, cfg.RecheckBatch)
	assert.Equal(t, 3, cfg.SettlementParallelism)
	assert.Equal(t, 4, cfg.RecomputeWorkers, "invalid values fall back to the default")
	assert.Equal(t, time.Second, cfg.OracleCacheTTL)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_PUBSUB_CHANNEL=from_file\nLEDGER_BACKEND=postgres\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Cleanup(func() { _ = os.Unsetenv("REDIS_PUBSUB_CHANNEL") })

	cfg := Load()

	assert.Equal(t, "from_file", cfg.RedisPubSubChannel)
	assert.Equal(t, "memory", cfg.LedgerBackend)
}
