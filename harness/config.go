package harness

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values like "20s" decode directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config describes one end-to-end run against a test network.
type Config struct {
	// Endpoint is the websocket URL of the ledger node.
	Endpoint string `toml:"endpoint"`

	// Settlement currency for rental payments; both hook accounts trust it.
	SettlementCurrency string `toml:"settlement_currency"`
	SettlementIssuer   string `toml:"settlement_issuer"`

	// Fee currency the spread hook collects in. Optional; empty means the
	// spread is collected in the settlement currency.
	FeeCurrency string `toml:"fee_currency"`
	FeeIssuer   string `toml:"fee_issuer"`

	TrustlineLimit string `toml:"trustline_limit"`

	// Paths to compiled hook bytecode artifacts.
	RentalHookPath string `toml:"rental_hook_path"`
	SpreadHookPath string `toml:"spread_hook_path"`

	// EscrowAmount is the opening payment in drops for each exercised rental.
	EscrowAmount int64 `toml:"escrow_amount"`

	// ExpectedSpread enables the post-settlement spread observation when set.
	ExpectedSpread string `toml:"expected_spread"`

	FinalityTimeout Duration `toml:"finality_timeout"`
	SpreadWindow    Duration `toml:"spread_window"`
}

// DefaultConfig returns the defaults for a local devnet run.
func DefaultConfig() Config {
	return Config{
		Endpoint:           "ws://localhost:6006",
		SettlementCurrency: "RLUSD",
		TrustlineLimit:     "1000000000",
		EscrowAmount:       2000000,
		FinalityTimeout:    Duration(20 * time.Second),
		SpreadWindow:       Duration(15 * time.Second),
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields every run needs.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.SettlementCurrency == "" || c.SettlementIssuer == "" {
		return fmt.Errorf("settlement_currency and settlement_issuer are required")
	}
	if c.TrustlineLimit == "" {
		return fmt.Errorf("trustline_limit is required")
	}
	if c.EscrowAmount <= 0 {
		return fmt.Errorf("escrow_amount must be positive")
	}
	if c.RentalHookPath == "" || c.SpreadHookPath == "" {
		return fmt.Errorf("rental_hook_path and spread_hook_path are required")
	}
	return nil
}

// HookBytecode loads both hook artifacts from disk.
func (c Config) HookBytecode() (rental, spread []byte, err error) {
	rental, err = os.ReadFile(c.RentalHookPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rental hook artifact: %w", err)
	}
	spread, err = os.ReadFile(c.SpreadHookPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read spread hook artifact: %w", err)
	}
	return rental, spread, nil
}
