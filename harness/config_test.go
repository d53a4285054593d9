package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
endpoint = "wss://devnet.example.org:51233"
settlement_currency = "RLUSD"
settlement_issuer = "0x4444444444444444444444444444444444444444"
fee_currency = "FSE"
fee_issuer = "0x4444444444444444444444444444444444444444"
trustline_limit = "1000000000"
rental_hook_path = "hooks/rental.wasm"
spread_hook_path = "hooks/spread.wasm"
escrow_amount = 2000000
expected_spread = "0.5"
finality_timeout = "30s"
spread_window = "10s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://devnet.example.org:51233", cfg.Endpoint)
	assert.Equal(t, "FSE", cfg.FeeCurrency)
	assert.Equal(t, int64(2000000), cfg.EscrowAmount)
	assert.Equal(t, "0.5", cfg.ExpectedSpread)
	assert.Equal(t, 30*time.Second, cfg.FinalityTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.SpreadWindow.Std())
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
settlement_issuer = "0x4444444444444444444444444444444444444444"
rental_hook_path = "hooks/rental.wasm"
spread_hook_path = "hooks/spread.wasm"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:6006", cfg.Endpoint)
	assert.Equal(t, "RLUSD", cfg.SettlementCurrency)
	assert.Equal(t, int64(2000000), cfg.EscrowAmount)
	assert.Equal(t, 20*time.Second, cfg.FinalityTimeout.Std())
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.SettlementIssuer = "0x4444444444444444444444444444444444444444"
	valid.RentalHookPath = "hooks/rental.wasm"
	valid.SpreadHookPath = "hooks/spread.wasm"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }},
		{"missing issuer", func(c *Config) { c.SettlementIssuer = "" }},
		{"missing limit", func(c *Config) { c.TrustlineLimit = "" }},
		{"zero amount", func(c *Config) { c.EscrowAmount = 0 }},
		{"missing hook path", func(c *Config) { c.SpreadHookPath = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `finality_timeout = "soon"`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestHookBytecode(t *testing.T) {
	dir := t.TempDir()
	rentalPath := filepath.Join(dir, "rental.wasm")
	spreadPath := filepath.Join(dir, "spread.wasm")
	require.NoError(t, os.WriteFile(rentalPath, []byte{0x00, 0x61}, 0o600))
	require.NoError(t, os.WriteFile(spreadPath, []byte{0x73, 0x6d}, 0o600))

	cfg := DefaultConfig()
	cfg.RentalHookPath = rentalPath
	cfg.SpreadHookPath = spreadPath

	rental, spread, err := cfg.HookBytecode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61}, rental)
	assert.Equal(t, []byte{0x73, 0x6d}, spread)

	cfg.SpreadHookPath = filepath.Join(dir, "missing.wasm")
	_, _, err = cfg.HookBytecode()
	require.Error(t, err)
}
