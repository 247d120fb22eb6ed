package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
chain:
  api_base: "https://node.example"
  signer_base: "http://localhost:9999"
  contract: "testcontract"
  escrow: "testescrow"
reconciler:
  poll_interval_ms: 500
  error_backoff_secs: 10
  ended_debounce_polls: 5
  removed_soak_polls: 7
  payout_spacing_ms: 3000
  house_cut_rate: 0.15
  type_config_ttl_secs: 60
storage:
  dsn: "test.db"
log:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://node.example", cfg.Chain.APIBase)
	assert.Equal(t, "testcontract", cfg.Chain.Contract)
	assert.Equal(t, "testescrow", cfg.Chain.Escrow)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.ErrorBackoff())
	assert.Equal(t, 3*time.Second, cfg.PayoutSpacing())
	assert.Equal(t, time.Minute, cfg.TypeConfigTTL())
	assert.Equal(t, 5, cfg.Reconciler.EndedDebouncePolls)
	assert.Equal(t, 0.15, cfg.Reconciler.HouseCutRate)
	assert.Equal(t, "test.db", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "eostimecontr", cfg.Chain.Contract)
	assert.Equal(t, cfg.Chain.Contract, cfg.Chain.Escrow, "escrow defaults to the contract account")
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.ErrorBackoff())
	assert.Equal(t, 10, cfg.Reconciler.EndedDebouncePolls)
	assert.Equal(t, 10, cfg.Reconciler.RemovedSoakPolls)
	assert.Equal(t, 2*time.Second, cfg.PayoutSpacing())
	assert.Equal(t, 0.10, cfg.Reconciler.HouseCutRate)
	assert.Equal(t, "eostime.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_API_BASE", "https://override.example")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, `
chain:
  api_base: "https://node.example"
log:
  level: "info"
`))
	require.NoError(t, err)
	assert.Equal(t, "https://override.example", cfg.Chain.APIBase)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "chain: [not: a: map"))
	assert.Error(t, err)
}
