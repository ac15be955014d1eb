package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFiles are the dotenv files loaded when Load is given none. The
// second one is where API credentials have traditionally lived.
var DefaultEnvFiles = []string{".env", "apikey.env"}

// Load reads a TOML (or YAML) configuration file at path, merges it on top of
// the built-in defaults, loads the given dotenv files (DefaultEnvFiles when
// none are given), applies environment overrides, and returns the final
// Config. A missing config file is not an error. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	// godotenv never overrides variables already present in the process
	// environment, and a missing file is fine.
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// decodeFile merges the file at path into cfg. Files ending in .yaml or .yml
// are YAML; anything else is TOML.
func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set (i.e. not empty). The
// bare API_KEY / API_SECRET / BASE_URL / BASE_WS_URL names are applied first so
// the VOLBOT_* spelling wins when both are present.
func applyEnvOverrides(cfg *Config) {
	// ── Legacy names ──
	setStr(&cfg.Venue.APIKey, "API_KEY")
	setStr(&cfg.Venue.APISecret, "API_SECRET")
	setStr(&cfg.Venue.BaseURL, "BASE_URL")
	setStr(&cfg.Venue.WSURL, "BASE_WS_URL")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "VOLBOT_VENUE_BASE_URL")
	setStr(&cfg.Venue.WSURL, "VOLBOT_VENUE_WS_URL")
	setStr(&cfg.Venue.WSPath, "VOLBOT_VENUE_WS_PATH")
	setStr(&cfg.Venue.OrderPath, "VOLBOT_VENUE_ORDER_PATH")
	setStr(&cfg.Venue.APIKey, "VOLBOT_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "VOLBOT_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "VOLBOT_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "VOLBOT_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.OrderTimeout, "VOLBOT_VENUE_ORDER_TIMEOUT")

	// ── Market ──
	setStr(&cfg.Market.Symbol, "VOLBOT_MARKET_SYMBOL")
	setStr(&cfg.Market.Group, "VOLBOT_MARKET_GROUP")
	setInt(&cfg.Market.Subaccount, "VOLBOT_MARKET_SUBACCOUNT")
	setStr(&cfg.Market.ConfirmationID, "VOLBOT_MARKET_CONFIRMATION_ID")

	// ── Trading ──
	setStr(&cfg.Trading.SpreadThreshold, "VOLBOT_TRADING_SPREAD_THRESHOLD")
	setDuration(&cfg.Trading.MinDwell, "VOLBOT_TRADING_MIN_DWELL")
	setDuration(&cfg.Trading.PollInterval, "VOLBOT_TRADING_POLL_INTERVAL")
	setStr(&cfg.Trading.FixedLegSize, "VOLBOT_TRADING_FIXED_LEG_SIZE")
	setStr(&cfg.Trading.MinTradeSize, "VOLBOT_TRADING_MIN_TRADE_SIZE")
	setStr(&cfg.Trading.MinNotional, "VOLBOT_TRADING_MIN_NOTIONAL")
	setStr(&cfg.Trading.TargetUSD, "VOLBOT_TRADING_TARGET_USD")
	setStr(&cfg.Trading.ReferencePrice, "VOLBOT_TRADING_REFERENCE_PRICE")

	// ── Feed ──
	setDuration(&cfg.Feed.BackoffBase, "VOLBOT_FEED_BACKOFF_BASE")
	setDuration(&cfg.Feed.BackoffMax, "VOLBOT_FEED_BACKOFF_MAX")
	setDuration(&cfg.Feed.ReconnectDelay, "VOLBOT_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.HandshakeTimeout, "VOLBOT_FEED_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Feed.Heartbeat, "VOLBOT_FEED_HEARTBEAT")
	setDuration(&cfg.Feed.SpreadLogEvery, "VOLBOT_FEED_SPREAD_LOG_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VOLBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VOLBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "VOLBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "VOLBOT_REDIS_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VOLBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VOLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VOLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VOLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VOLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VOLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VOLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VOLBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VOLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VOLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VOLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VOLBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VOLBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.FlushInterval, "VOLBOT_S3_FLUSH_INTERVAL")
	setInt(&cfg.S3.MaxBatch, "VOLBOT_S3_MAX_BATCH")
	setInt(&cfg.S3.PartSizeMB, "VOLBOT_S3_PART_SIZE_MB")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VOLBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VOLBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "VOLBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIBase, "VOLBOT_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.DiscordWebhookURL, "VOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VOLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "VOLBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
