// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
rpc_list:
  - https://rpc.example.com
  - https://backup.example.com
websocket_url: wss://rpc.example.com
private_key: key
slippage_percent: 2.5
fees:
  use_auto_priority_fee: true
  priority_level: high
  tip_aggressiveness: high
bundle:
  enabled: true
  url: https://engine.example.com/api/v1/transactions
  tip_feed_url: https://feed.example.com/tips
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Len(t, cfg.RPCList, 2)
	assert.Equal(t, "wss://rpc.example.com", cfg.WebSocketURL)
	assert.Equal(t, 2.5, cfg.SlippagePercent)
	assert.True(t, cfg.Fees.UseAutoPriorityFee)
	assert.Equal(t, "high", cfg.Fees.PriorityLevel)
	assert.Equal(t, TipHigh, cfg.Fees.TipAggressiveness)
	assert.True(t, cfg.Bundle.Enabled)

	// Defaults applied.
	assert.Equal(t, DefaultCommitment, cfg.Commitment)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, uint32(DefaultComputeUnits), cfg.ComputeUnits)
}

func TestLoadConfigEmptyRPCList(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
rpc_list: []
`))
	assert.Error(t, err)
}

func TestLoadConfigBadRPCProtocol(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
rpc_list:
  - ftp://rpc.example.com
`))
	assert.Error(t, err)
}

func TestLoadConfigBundleWithoutURL(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
rpc_list:
  - https://rpc.example.com
bundle:
  enabled: true
`))
	assert.Error(t, err)
}

func TestLoadConfigBadAggressiveness(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
rpc_list:
  - https://rpc.example.com
fees:
  tip_aggressiveness: extreme
`))
	assert.Error(t, err)
}

func TestLoadConfigSlippageRange(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
rpc_list:
  - https://rpc.example.com
slippage_percent: 150
`))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SWAP_AGENT_PRIVATE_KEY", "env-key")
	t.Setenv("SWAP_AGENT_RPC_LIST", "https://a.example.com, https://b.example.com")

	cfg, err := LoadConfig(writeConfig(t, `
rpc_list:
  - https://file.example.com
private_key: file-key
`))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.PrivateKey)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCList)
}
