package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWNBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWNBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "UPDOWNBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "UPDOWNBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "UPDOWNBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "UPDOWNBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "UPDOWNBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "UPDOWNBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWNBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "UPDOWNBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "UPDOWNBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "UPDOWNBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "UPDOWNBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "UPDOWNBOT_POLYMARKET_API_PASSPHRASE")
	setFloat64(&cfg.Polymarket.RequestsPerSec, "UPDOWNBOT_POLYMARKET_REQUESTS_PER_SEC")

	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "UPDOWNBOT_BINANCE_WS_HOST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWNBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWNBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWNBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWNBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWNBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWNBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWNBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWNBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWNBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWNBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWNBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWNBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWNBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWNBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWNBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWNBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.LeaseKey, "UPDOWNBOT_REDIS_LEASE_KEY")
	setDuration(&cfg.Redis.LeaseTTL, "UPDOWNBOT_REDIS_LEASE_TTL")
	setDuration(&cfg.Redis.RenewInterval, "UPDOWNBOT_REDIS_RENEW_INTERVAL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UPDOWNBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWNBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWNBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWNBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWNBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWNBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWNBOT_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "UPDOWNBOT_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.DiscoveryInterval, "UPDOWNBOT_ENGINE_DISCOVERY_INTERVAL")
	setDuration(&cfg.Engine.MinTimeToExpiry, "UPDOWNBOT_ENGINE_MIN_TIME_TO_EXPIRY")
	setInt(&cfg.Engine.MaxMarkets, "UPDOWNBOT_ENGINE_MAX_MARKETS")
	setStrSlice(&cfg.Engine.Assets, "UPDOWNBOT_ENGINE_ASSETS")
	setFloat64(&cfg.Engine.Pairing.TargetCombinedPrice, "UPDOWNBOT_PAIRING_TARGET_COMBINED_PRICE")
	setFloat64(&cfg.Engine.Pairing.LotSize, "UPDOWNBOT_PAIRING_LOT_SIZE")
	setInt(&cfg.Engine.Pairing.MaxPendingPairs, "UPDOWNBOT_PAIRING_MAX_PENDING_PAIRS")
	setDuration(&cfg.Engine.Pairing.HedgeTimeout, "UPDOWNBOT_PAIRING_HEDGE_TIMEOUT")
	setBool(&cfg.Engine.Guard.CircuitBreakerEnabled, "UPDOWNBOT_GUARD_CIRCUIT_BREAKER_ENABLED")
	setBool(&cfg.Engine.Guard.RebalancerEnabled, "UPDOWNBOT_GUARD_REBALANCER_ENABLED")
	setBool(&cfg.Engine.Guard.EmergencyEnabled, "UPDOWNBOT_GUARD_EMERGENCY_ENABLED")
	setFloat64(&cfg.Engine.Guard.MaxUnpairedShares, "UPDOWNBOT_GUARD_MAX_UNPAIRED_SHARES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWNBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWNBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWNBOT_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top level ──
	setStr(&cfg.Mode, "UPDOWNBOT_MODE")
	setBool(&cfg.DryRun, "UPDOWNBOT_DRY_RUN")
	setStr(&cfg.LogLevel, "UPDOWNBOT_LOG_LEVEL")
}

// setStr overwrites dst with the environment variable value when set.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the environment variable parses as an int.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setFloat64 overwrites dst when the environment variable parses as a float.
func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setBool overwrites dst when the environment variable parses as a bool.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration overwrites dst when the environment variable parses as a
// time.Duration string such as "45s".
func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setStrSlice overwrites dst with a comma-separated list from the environment.
func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
