package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MARKET", "TOTAL_KRW", "SLICES", "BUY_STEP_PCT", "SELL_TP_PCT",
		"DRY_RUN", "UPBIT_ACCESS_KEY", "UPBIT_SECRET_KEY", "DB_URL",
		"POLL_SEC", "USE_WEBSOCKET", "RECONCILE_EVERY", "REPORT_EVERY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "KRW-BTC", cfg.Market)
	assert.Equal(t, int64(2_000_000), cfg.TotalKRW)
	assert.Equal(t, 50, cfg.Slices)
	assert.Equal(t, 2.0, cfg.BuyStepPct)
	assert.Equal(t, 3.0, cfg.SellTPPct)
	assert.True(t, cfg.DryRun, "must default to dry run")
	assert.Equal(t, "sqlite://db/grid.db", cfg.DBURL)
	assert.Equal(t, 2.0, cfg.PollSec)
	assert.Equal(t, "https://api.upbit.com", cfg.APIBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MARKET", "KRW-ETH")
	t.Setenv("TOTAL_KRW", "500000")
	t.Setenv("SLICES", "10")
	t.Setenv("DRY_RUN", "0")
	t.Setenv("UPBIT_ACCESS_KEY", "ak")
	t.Setenv("UPBIT_SECRET_KEY", "sk")
	t.Setenv("DB_URL", "badger:///tmp/grid")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "KRW-ETH", cfg.Market)
	assert.Equal(t, int64(500_000), cfg.TotalKRW)
	assert.Equal(t, 10, cfg.Slices)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "badger:///tmp/grid", cfg.DBURL)
}

func TestSliceKRW(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), cfg.SliceKRW())

	// Below the exchange minimum notional the slice is floored at 5000.
	t.Setenv("TOTAL_KRW", "100000")
	t.Setenv("SLICES", "100")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), cfg.SliceKRW())
}

func TestLiveModeRequiresKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRY_RUN", "0")

	_, err := Load()
	assert.Error(t, err, "live mode without API keys must fail at startup")
}

func TestInvalidValuesRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOTAL_KRW", "-1")
	_, err := Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("SLICES", "0")
	_, err = Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("POLL_SEC", "-2")
	_, err = Load()
	assert.Error(t, err)
}
