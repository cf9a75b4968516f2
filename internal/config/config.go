// Package config defines the top-level configuration for updownbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWNBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Binance    BinanceConfig    `toml:"binance"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Engine     EngineConfig     `toml:"engine"`
	Report     ReportConfig     `toml:"report"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	DryRun     bool             `toml:"dry_run"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds exchange endpoints, chain parameters, and the L2
// HMAC credentials used for authenticated REST calls.
type PolymarketConfig struct {
	ClobHost       string  `toml:"clob_host"`
	GammaHost      string  `toml:"gamma_host"`
	DataHost       string  `toml:"data_host"`
	WsHost         string  `toml:"ws_host"`
	ChainID        int     `toml:"chain_id"`
	SignatureType  int     `toml:"signature_type"`
	ApiKey         string  `toml:"api_key"`
	ApiSecret      string  `toml:"api_secret"`
	ApiPassphrase  string  `toml:"api_passphrase"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// BinanceConfig holds the spot price stream used by the reversal feed.
type BinanceConfig struct {
	WsHost string `toml:"ws_host"`
}

// PostgresConfig holds the reporting database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection and trading-lease parameters.
type RedisConfig struct {
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	LeaseKey      string   `toml:"lease_key"`
	LeaseTTL      duration `toml:"lease_ttl"`
	RenewInterval duration `toml:"renew_interval"`
}

// S3Config holds S3-compatible object storage parameters for snapshot and
// archive exports.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the trading engine parameters.
type EngineConfig struct {
	TickInterval      duration `toml:"tick_interval"`
	TickCooldown      duration `toml:"tick_cooldown"`
	DiscoveryInterval duration `toml:"discovery_interval"`
	MinTimeToExpiry   duration `toml:"min_time_to_expiry"`
	MaxMarkets        int      `toml:"max_markets"`
	Assets            []string `toml:"assets"`

	Pairing PairingConfig `toml:"pairing"`
	Guard   GuardConfig   `toml:"guard"`
	Grid    GridConfig    `toml:"grid"`

	ReconcileInterval duration `toml:"reconcile_interval"`
	DriftEpsilon      float64  `toml:"drift_epsilon"`

	ReversalWindow       duration `toml:"reversal_window"`
	ReversalThresholdPct float64  `toml:"reversal_threshold_pct"`
}

// PairingConfig holds the taker/maker pairing strategy parameters.
type PairingConfig struct {
	TargetCombinedPrice float64  `toml:"target_combined_price"`
	MinMakerPrice       float64  `toml:"min_maker_price"`
	LotSize             float64  `toml:"lot_size"`
	MaxPendingPairs     int      `toml:"max_pending_pairs"`
	HedgeTimeout        duration `toml:"hedge_timeout"`
	ObservationDelay    duration `toml:"observation_delay"`
	ClosedGracePeriod   duration `toml:"closed_grace_period"`
}

// GuardConfig holds the exposure guard parameters. Each check toggles
// independently; pairing mode typically runs with all three disabled because
// the pair cap and hedge timeout already bound exposure.
type GuardConfig struct {
	CircuitBreakerEnabled bool    `toml:"circuit_breaker_enabled"`
	RebalancerEnabled     bool    `toml:"rebalancer_enabled"`
	EmergencyEnabled      bool    `toml:"emergency_enabled"`
	MaxUnpairedShares     float64 `toml:"max_unpaired_shares"`
	MaxUnpairedNotional   float64 `toml:"max_unpaired_notional"`
	EmergencyMinUnpaired  float64 `toml:"emergency_min_unpaired"`
}

// GridConfig holds the legacy symmetric grid quoting parameters.
type GridConfig struct {
	Levels       int     `toml:"levels"`
	SpacingTicks float64 `toml:"spacing_ticks"`
	QuoteSize    float64 `toml:"quote_size"`
	MaxCombined  float64 `toml:"max_combined"`
}

// ReportConfig holds the reporting sink parameters.
type ReportConfig struct {
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	SnapshotBatchSize int      `toml:"snapshot_batch_size"`
	FlushInterval     duration `toml:"flush_interval"`
	RetentionDays     int      `toml:"retention_days"`
	ArchiveEnabled    bool     `toml:"archive_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:       "https://clob.polymarket.com",
			GammaHost:      "https://gamma-api.polymarket.com",
			DataHost:       "https://data-api.polymarket.com",
			WsHost:         "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:        137,
			SignatureType:  2,
			RequestsPerSec: 8,
		},
		Binance: BinanceConfig{
			WsHost: "wss://stream.binance.com:9443",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updownbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			LeaseKey:      "updownbot:trader",
			LeaseTTL:      duration{30 * time.Second},
			RenewInterval: duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			TickInterval:      duration{1 * time.Second},
			TickCooldown:      duration{5 * time.Second},
			DiscoveryInterval: duration{30 * time.Second},
			MinTimeToExpiry:   duration{3 * time.Minute},
			MaxMarkets:        6,
			Assets:            []string{"BTC", "ETH"},
			Pairing: PairingConfig{
				TargetCombinedPrice: 0.95,
				MinMakerPrice:       0.05,
				LotSize:             10,
				MaxPendingPairs:     3,
				HedgeTimeout:        duration{45 * time.Second},
				ObservationDelay:    duration{20 * time.Second},
				ClosedGracePeriod:   duration{5 * time.Minute},
			},
			Guard: GuardConfig{
				CircuitBreakerEnabled: false,
				RebalancerEnabled:     false,
				EmergencyEnabled:      false,
				MaxUnpairedShares:     35,
				MaxUnpairedNotional:   25,
				EmergencyMinUnpaired:  20,
			},
			Grid: GridConfig{
				Levels:       3,
				SpacingTicks: 0.01,
				QuoteSize:    10,
				MaxCombined:  0.97,
			},
			ReconcileInterval:    duration{5 * time.Second},
			DriftEpsilon:         0.5,
			ReversalWindow:       duration{60 * time.Second},
			ReversalThresholdPct: 0.25,
		},
		Report: ReportConfig{
			HeartbeatInterval: duration{15 * time.Second},
			SnapshotBatchSize: 200,
			FlushInterval:     duration{5 * time.Second},
			RetentionDays:     30,
			ArchiveEnabled:    false,
		},
		Notify: NotifyConfig{
			Events: []string{"settlement", "emergency_close", "error"},
		},
		Mode:     "trade",
		DryRun:   true,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true, // taker/maker pairing engine (canonical)
	"grid":    true, // legacy symmetric grid quoting
	"monitor": true, // feeds and reporting only, no orders
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, grid, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is required whenever orders can be sent.
	needsWallet := c.Mode != "monitor" && !c.DryRun
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.RequestsPerSec <= 0 {
		errs = append(errs, "polymarket: requests_per_sec must be > 0")
	}

	if c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.LeaseTTL.Duration <= 0 {
		errs = append(errs, "redis: lease_ttl must be > 0")
	}
	if c.Redis.RenewInterval.Duration <= 0 || c.Redis.RenewInterval.Duration >= c.Redis.LeaseTTL.Duration {
		errs = append(errs, "redis: renew_interval must be > 0 and shorter than lease_ttl")
	}

	if c.Report.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	eng := c.Engine
	if eng.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if eng.MaxMarkets < 1 {
		errs = append(errs, "engine: max_markets must be >= 1")
	}
	if len(eng.Assets) == 0 {
		errs = append(errs, "engine: assets must not be empty")
	}
	if eng.DriftEpsilon < 0 {
		errs = append(errs, "engine: drift_epsilon must be >= 0")
	}

	p := eng.Pairing
	if p.TargetCombinedPrice <= 0 || p.TargetCombinedPrice >= 1 {
		errs = append(errs, fmt.Sprintf("engine.pairing: target_combined_price must be in (0,1), got %.3f", p.TargetCombinedPrice))
	}
	if p.MinMakerPrice <= 0 || p.MinMakerPrice >= p.TargetCombinedPrice {
		errs = append(errs, "engine.pairing: min_maker_price must be in (0, target_combined_price)")
	}
	if p.LotSize <= 0 {
		errs = append(errs, "engine.pairing: lot_size must be > 0")
	}
	if p.MaxPendingPairs < 1 {
		errs = append(errs, "engine.pairing: max_pending_pairs must be >= 1")
	}
	if p.HedgeTimeout.Duration <= 0 {
		errs = append(errs, "engine.pairing: hedge_timeout must be > 0")
	}

	g := eng.Guard
	if g.MaxUnpairedShares <= 0 {
		errs = append(errs, "engine.guard: max_unpaired_shares must be > 0")
	}
	if g.EmergencyMinUnpaired <= 0 {
		errs = append(errs, "engine.guard: emergency_min_unpaired must be > 0")
	}

	if c.Mode == "grid" {
		if eng.Grid.Levels < 1 {
			errs = append(errs, "engine.grid: levels must be >= 1 in grid mode")
		}
		if eng.Grid.QuoteSize <= 0 {
			errs = append(errs, "engine.grid: quote_size must be > 0 in grid mode")
		}
	}

	if eng.ReversalThresholdPct <= 0 {
		errs = append(errs, "engine: reversal_threshold_pct must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
