// Package config defines the top-level configuration for the volume bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// (or YAML) file and then optionally overridden by VOLBOT_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue" yaml:"venue"`
	Market   MarketConfig   `toml:"market" yaml:"market"`
	Trading  TradingConfig  `toml:"trading" yaml:"trading"`
	Feed     FeedConfig     `toml:"feed" yaml:"feed"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// VenueConfig holds the exchange endpoints and API credentials.
type VenueConfig struct {
	BaseURL   string `toml:"base_url" yaml:"base_url"`
	WSURL     string `toml:"ws_url" yaml:"ws_url"`
	WSPath    string `toml:"ws_path" yaml:"ws_path"`
	OrderPath string `toml:"order_path" yaml:"order_path"`
	APIKey    string `toml:"api_key" yaml:"api_key"`
	// APISecret is the base64 secret as issued by the venue.
	APISecret string `toml:"api_secret" yaml:"api_secret"`
	// EncryptedSecretPath points at a file written by crypto.EncryptSecret;
	// used only when APISecret is empty.
	EncryptedSecretPath string   `toml:"encrypted_secret_path" yaml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password" yaml:"secret_password"`
	OrderTimeout        duration `toml:"order_timeout" yaml:"order_timeout"`
}

// MarketConfig selects the instrument and orderbook channel.
type MarketConfig struct {
	Symbol         string `toml:"symbol" yaml:"symbol"`
	Group          string `toml:"group" yaml:"group"`
	Subaccount     int    `toml:"subaccount" yaml:"subaccount"`
	ConfirmationID string `toml:"confirmation_id" yaml:"confirmation_id"`
}

// TradingConfig holds the paired-trade controller parameters. Decimal values
// are kept as strings so the TOML file can carry exact amounts.
type TradingConfig struct {
	SpreadThreshold string   `toml:"spread_threshold" yaml:"spread_threshold"`
	MinDwell        duration `toml:"min_dwell" yaml:"min_dwell"`
	PollInterval    duration `toml:"poll_interval" yaml:"poll_interval"`
	FixedLegSize    string   `toml:"fixed_leg_size" yaml:"fixed_leg_size"`
	MinTradeSize    string   `toml:"min_trade_size" yaml:"min_trade_size"`
	MinNotional     string   `toml:"min_notional" yaml:"min_notional"`
	TargetUSD       string   `toml:"target_usd" yaml:"target_usd"`
	ReferencePrice  string   `toml:"reference_price" yaml:"reference_price"`
}

// FeedConfig tunes the websocket connector.
type FeedConfig struct {
	BackoffBase      duration `toml:"backoff_base" yaml:"backoff_base"`
	BackoffMax       duration `toml:"backoff_max" yaml:"backoff_max"`
	ReconnectDelay   duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	HandshakeTimeout duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	Heartbeat        duration `toml:"heartbeat" yaml:"heartbeat"`
	SpreadLogEvery   duration `toml:"spread_log_interval" yaml:"spread_log_interval"`
}

// RedisConfig holds Redis connection parameters. The integration is off
// unless Enabled is set.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Addr       string   `toml:"addr" yaml:"addr"`
	Password   string   `toml:"password" yaml:"password"`
	DB         int      `toml:"db" yaml:"db"`
	PoolSize   int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix" yaml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl" yaml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	Endpoint       string   `toml:"endpoint" yaml:"endpoint"`
	Region         string   `toml:"region" yaml:"region"`
	Bucket         string   `toml:"bucket" yaml:"bucket"`
	AccessKey      string   `toml:"access_key" yaml:"access_key"`
	SecretKey      string   `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style" yaml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval" yaml:"flush_interval"`
	MaxBatch       int      `toml:"max_batch" yaml:"max_batch"`
	PartSizeMB     int      `toml:"part_size_mb" yaml:"part_size_mb"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "510ms" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML accepts the same duration strings in YAML config files.
func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// ServerConfig holds status server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Port    int    `toml:"port" yaml:"port"`
	APIKey  string `toml:"api_key" yaml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	TelegramAPIBase   string   `toml:"telegram_api_base" yaml:"telegram_api_base"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Defaults returns a Config populated with the values the bot was tuned with.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL:      "https://arkm.com/api",
			WSURL:        "wss://arkm.com/ws",
			WSPath:       "/ws",
			OrderPath:    "/orders/new",
			OrderTimeout: duration{5 * time.Second},
		},
		Market: MarketConfig{
			Symbol:         "BTC_USDT_PERP",
			Group:          "0.01",
			Subaccount:     0,
			ConfirmationID: "abc123",
		},
		Trading: TradingConfig{
			SpreadThreshold: "0.0111",
			MinDwell:        duration{510 * time.Millisecond},
			PollInterval:    duration{131 * time.Millisecond},
			FixedLegSize:    "0.00371",
			MinTradeSize:    "0.00006",
			MinNotional:     "5",
			TargetUSD:       "505000",
			ReferencePrice:  "105000",
		},
		Feed: FeedConfig{
			BackoffBase:      duration{time.Second},
			BackoffMax:       duration{60 * time.Second},
			ReconnectDelay:   duration{time.Second},
			HandshakeTimeout: duration{15 * time.Second},
			Heartbeat:        duration{30 * time.Second},
			SpreadLogEvery:   duration{time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "volumebot-data",
			ForcePathStyle: true,
			FlushInterval:  duration{time.Minute},
			MaxBatch:       500,
			PartSizeMB:     5,
		},
		Server: ServerConfig{
			Port: 8000,
		},
		Notify: NotifyConfig{
			Events: []string{"target", "feed_failed", "lock_lost"},
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if c.Venue.WSURL == "" {
		errs = append(errs, "venue: ws_url must not be empty")
	}
	if c.Venue.APIKey == "" {
		errs = append(errs, "venue: api_key must be set (or API_KEY)")
	}
	if c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
		errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set")
	}
	if c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
		errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
	}
	if c.Venue.OrderTimeout.Duration <= 0 {
		errs = append(errs, "venue: order_timeout must be > 0")
	}

	// Market
	if c.Market.Symbol == "" {
		errs = append(errs, "market: symbol must not be empty")
	}
	if c.Market.Group == "" {
		errs = append(errs, "market: group must not be empty")
	}
	if c.Market.Subaccount < 0 {
		errs = append(errs, "market: subaccount must be >= 0")
	}

	// Trading
	errs = checkDecimal(errs, "trading: spread_threshold", c.Trading.SpreadThreshold, false)
	errs = checkDecimal(errs, "trading: fixed_leg_size", c.Trading.FixedLegSize, true)
	errs = checkDecimal(errs, "trading: min_trade_size", c.Trading.MinTradeSize, true)
	errs = checkDecimal(errs, "trading: min_notional", c.Trading.MinNotional, false)
	errs = checkDecimal(errs, "trading: target_usd", c.Trading.TargetUSD, true)
	errs = checkDecimal(errs, "trading: reference_price", c.Trading.ReferencePrice, true)
	if c.Trading.MinDwell.Duration < 0 {
		errs = append(errs, "trading: min_dwell must be >= 0")
	}
	if c.Trading.PollInterval.Duration <= 0 {
		errs = append(errs, "trading: poll_interval must be > 0")
	}

	// Feed
	if c.Feed.BackoffBase.Duration <= 0 {
		errs = append(errs, "feed: backoff_base must be > 0")
	}
	if c.Feed.BackoffMax.Duration < c.Feed.BackoffBase.Duration {
		errs = append(errs, "feed: backoff_max must be >= backoff_base")
	}
	if c.Feed.ReconnectDelay.Duration < 0 {
		errs = append(errs, "feed: reconnect_delay must be >= 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.FlushInterval.Duration <= 0 {
			errs = append(errs, "s3: flush_interval must be > 0")
		}
		if c.S3.MaxBatch < 1 {
			errs = append(errs, "s3: max_batch must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkDecimal(errs []string, name, value string, positive bool) []string {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return append(errs, fmt.Sprintf("%s: %q is not a decimal", name, value))
	}
	if positive && !d.IsPositive() {
		return append(errs, name+" must be > 0")
	}
	if d.IsNegative() {
		return append(errs, name+" must be >= 0")
	}
	return errs
}

// Decimal parses one of the trading decimals. Callers run Validate first, so
// a parse failure yields zero.
func Decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Addr returns the listen address for the status server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
