package strategycode_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/strategycode"
)

const samplePy = `import time

STRATEGY_CONFIG = {
    "symbol": "BTCUSDT",
    "resolution": "5",
    "risk_per_trade": 0.02,
    "leverage": 10,
    "kind": "legacy",
    "notes": "trend follower",
}

def run(candle):
    pass
`

func writeStrategy(t *testing.T, dir, id, source string) {
	t.Helper()
	strategyDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(strategyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(strategyDir, "main.py"), []byte(source), 0o644))
}

func TestLoaderLoadsSinglePyFile(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "strat-1", samplePy)

	loader := strategycode.NewLoader(dir)
	code, err := loader.Load("strat-1")
	require.NoError(t, err)
	assert.Equal(t, "strat-1", code.StrategyID)
	assert.Contains(t, code.Source, "STRATEGY_CONFIG")
}

func TestLoaderFailsOnMissingDir(t *testing.T) {
	loader := strategycode.NewLoader(t.TempDir())
	_, err := loader.Load("missing")
	assert.Error(t, err)
}

func TestLoaderFailsOnMultiplePyFiles(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "strat-1", samplePy)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strat-1", "extra.py"), []byte("pass"), 0o644))

	loader := strategycode.NewLoader(dir)
	_, err := loader.Load("strat-1")
	assert.Error(t, err)
}

func TestParseConfigExtractsFields(t *testing.T) {
	raw, ok := strategycode.ParseConfig(samplePy)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", raw["symbol"])
	assert.Equal(t, "5", raw["resolution"])
	assert.Equal(t, 0.02, raw["risk_per_trade"])
}

func TestParseConfigMissingAssignment(t *testing.T) {
	_, ok := strategycode.ParseConfig("def run(candle):\n    pass\n")
	assert.False(t, ok)
}

func TestToExecutionConfigMapsKnownFields(t *testing.T) {
	raw, ok := strategycode.ParseConfig(samplePy)
	require.True(t, ok)

	cfg := strategycode.ToExecutionConfig(raw)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "5", cfg.Resolution)
	require.NotNil(t, cfg.RiskPerTrade)
	assert.InDelta(t, 0.02, *cfg.RiskPerTrade, 0.0001)
	assert.Equal(t, domain.StrategyKindLegacy, cfg.Kind)
	assert.Equal(t, "trend follower", cfg.Extras["notes"])
}
