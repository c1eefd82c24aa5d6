// Package config defines all configuration for the market-making bot.
// Every threshold and endpoint is driven by environment variables — there
// is no YAML file in this layout, since a single-session bot has no
// per-market list to template. Each field is bound to its own env var via
// viper.BindEnv so the var names match the documented configuration
// surface exactly (no POLY_ prefix, no dot-to-underscore translation).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for one supervisor session.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	Market    MarketConfig    `mapstructure:"market"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	OFI       OFIConfig       `mapstructure:"ofi"`
	Coord     CoordConfig     `mapstructure:"coord"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// MarketConfig identifies the session's market and transport endpoints.
// Slug is either a fixed slug (quoted, used for the session's whole
// lifetime) or a rotating prefix (e.g. "btc-updown-15m") that the
// supervisor re-resolves at every window boundary. MarketID/YesAssetID/
// NoAssetID are optional overrides — when empty, the resolver derives them
// from Slug via the Gamma API.
type MarketConfig struct {
	Slug          string `mapstructure:"slug"`
	MarketID      string `mapstructure:"market_id"`
	YesAssetID    string `mapstructure:"yes_asset_id"`
	NoAssetID     string `mapstructure:"no_asset_id"`
	WSBaseURL     string `mapstructure:"ws_base_url"`
	RESTURL       string `mapstructure:"rest_url"`
	GammaURL      string `mapstructure:"gamma_url"` // not in the documented surface; see DESIGN.md
	CustomFeature bool   `mapstructure:"custom_feature"`
}

// InventoryConfig sets the Inventory Manager's admission thresholds.
type InventoryConfig struct {
	MaxNetDiff       float64 `mapstructure:"max_net_diff"`
	MaxPortfolioCost float64 `mapstructure:"max_portfolio_cost"`
	MaxPositionValue float64 `mapstructure:"max_position_value"`
}

// OFIConfig tunes the order-flow-imbalance toxicity engine.
type OFIConfig struct {
	WindowMs          int     `mapstructure:"window_ms"`
	ToxicityThreshold float64 `mapstructure:"toxicity_threshold"`
	HeartbeatMs       int     `mapstructure:"heartbeat_ms"`
}

// CoordConfig tunes the Strategy Coordinator's pricing and repricing
// behavior. DryRun here mirrors the top-level DryRun — both are bound to
// DRY_RUN so every actor that checks dry-run mode reads the same flag.
type CoordConfig struct {
	PairTarget       float64       `mapstructure:"pair_target"`
	BidSize          float64       `mapstructure:"bid_size"`
	TickSize         float64       `mapstructure:"tick_size"`
	RepriceThreshold float64       `mapstructure:"reprice_threshold"`
	DebounceMs       int           `mapstructure:"debounce_ms"`
	DryRun           bool          `mapstructure:"dry_run"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer if using a proxy/multisig wallet).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds the optional pre-derived L2 credential triple. If any of
// the three is empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	ApiKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration entirely from the environment. bindEnv ties each
// field to its documented variable name; SetDefault seeds every threshold
// with the value this bot has shipped with historically so an operator can
// start from "no config at all" and layer on overrides incrementally.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	defaults := map[string]any{
		"market.ws_base_url":     "wss://ws-subscriptions-clob.polymarket.com/ws",
		"market.rest_url":        "https://clob.polymarket.com",
		"market.gamma_url":       "https://gamma-api.polymarket.com",
		"market.custom_feature":  false,
		"inventory.max_net_diff": 10.0,
		"inventory.max_portfolio_cost": 1.02,
		"inventory.max_position_value": 5.0,
		"ofi.window_ms":          3000,
		"ofi.toxicity_threshold": 50.0,
		"ofi.heartbeat_ms":       200,
		"coord.pair_target":       0.99,
		"coord.bid_size":          2.0,
		"coord.tick_size":         0.001,
		"coord.reprice_threshold": 0.01,
		"coord.debounce_ms":       500,
		"wallet.chain_id":         137,
		"wallet.signature_type":   0,
		"logging.level":           "info",
		"logging.format":          "text",
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	bindings := map[string]string{
		"market.slug":            "MARKET_SLUG",
		"market.market_id":       "MARKET_ID",
		"market.yes_asset_id":    "YES_ASSET_ID",
		"market.no_asset_id":     "NO_ASSET_ID",
		"market.ws_base_url":     "WS_BASE_URL",
		"market.rest_url":        "REST_URL",
		"market.gamma_url":       "GAMMA_URL",
		"market.custom_feature":  "CUSTOM_FEATURE",
		"wallet.private_key":     "PRIVATE_KEY",
		"wallet.funder_address":  "FUNDER_ADDRESS",
		"wallet.chain_id":        "CHAIN_ID",
		"wallet.signature_type":  "SIGNATURE_TYPE",
		"api.api_key":            "API_KEY",
		"api.secret":             "API_SECRET",
		"api.passphrase":         "API_PASSPHRASE",
		"inventory.max_net_diff":       "MAX_NET_DIFF",
		"inventory.max_portfolio_cost": "MAX_PORTFOLIO_COST",
		"inventory.max_position_value": "MAX_POSITION_VALUE",
		"ofi.window_ms":          "OFI_WINDOW_MS",
		"ofi.toxicity_threshold": "OFI_TOXICITY_THRESHOLD",
		"ofi.heartbeat_ms":       "OFI_HEARTBEAT_MS",
		"coord.pair_target":       "PAIR_TARGET",
		"coord.bid_size":          "BID_SIZE",
		"coord.tick_size":         "TICK_SIZE",
		"coord.reprice_threshold": "REPRICE_THRESHOLD",
		"coord.debounce_ms":       "DEBOUNCE_MS",
		"coord.dry_run":           "DRY_RUN",
		"dry_run":                 "DRY_RUN",
		"logging.level":           "LOG_LEVEL",
		"logging.format":          "LOG_FORMAT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields required to start a session. It does not
// require L2 API credentials — those may be derived at startup — but live
// (non-dry-run) mode requires a private key, since that is what derivation
// itself depends on.
func (c *Config) Validate() error {
	if c.Market.Slug == "" {
		return fmt.Errorf("MARKET_SLUG is required")
	}
	if !c.DryRun && c.Wallet.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required outside dry-run mode")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("SIGNATURE_TYPE must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("FUNDER_ADDRESS is required when SIGNATURE_TYPE is 1 or 2")
	}
	if c.Market.RESTURL == "" {
		return fmt.Errorf("REST_URL is required")
	}
	if c.Coord.PairTarget <= 0 || c.Coord.PairTarget > 1 {
		return fmt.Errorf("PAIR_TARGET must be in (0, 1]")
	}
	if c.Coord.BidSize <= 0 {
		return fmt.Errorf("BID_SIZE must be > 0")
	}
	if c.Coord.TickSize <= 0 {
		return fmt.Errorf("TICK_SIZE must be > 0")
	}
	return nil
}

// OFIWindowDuration converts OFI.WindowMs to a time.Duration for the engine.
func (c *Config) OFIWindowDuration() time.Duration {
	return time.Duration(c.OFI.WindowMs) * time.Millisecond
}

// OFIHeartbeatDuration converts OFI.HeartbeatMs to a time.Duration for the engine.
func (c *Config) OFIHeartbeatDuration() time.Duration {
	return time.Duration(c.OFI.HeartbeatMs) * time.Millisecond
}

// CoordDebounceDuration converts Coord.DebounceMs to a time.Duration.
func (c *Config) CoordDebounceDuration() time.Duration {
	return time.Duration(c.Coord.DebounceMs) * time.Millisecond
}
