// Package config defines the top-level configuration for gannbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/trader"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GANNBOT_* environment variables.
type Config struct {
	Mode        string            `toml:"mode"`
	Source      string            `toml:"source"`
	LogLevel    string            `toml:"log_level"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Traders     []TraderConfig    `toml:"traders"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Recorder    RecorderConfig    `toml:"recorder"`
	Replay      ReplayConfig      `toml:"replay"`
	Archive     ArchiveConfig     `toml:"archive"`
	Notify      NotifyConfig      `toml:"notify"`
	Server      ServerConfig      `toml:"server"`
}

// MarketplaceConfig holds the bitcoin.de endpoints and API credentials.
type MarketplaceConfig struct {
	APIURL              string   `toml:"api_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestsPerSec      float64  `toml:"requests_per_sec"`
	Burst               int      `toml:"burst"`
	Timeout             duration `toml:"timeout"`
	ReconnectDelay      duration `toml:"reconnect_delay"`
	DedupTTL            duration `toml:"dedup_ttl"`
	// DryRun executes trades against the simulated broker in trade mode.
	DryRun bool `toml:"dry_run"`
	// FeeRate is the fraction the simulated broker withholds, e.g. "0.005".
	FeeRate string `toml:"fee_rate"`
}

// TraderConfig describes one trader: its state file and its policy. Money
// values are in minor currency units (cents).
type TraderConfig struct {
	Name            string `toml:"name"`
	SnapshotPath    string `toml:"snapshot_path"`
	Cash            int64  `toml:"cash"`
	Spend           int64  `toml:"spend"`
	Tolerance       int64  `toml:"tolerance"`
	StepPrice       int64  `toml:"step_price"`
	TurnaroundPrice int64  `toml:"turnaround_price"`
	Decimals        int32  `toml:"decimals"`
	Pair            string `toml:"pair"`
	// Profit is "10%" for a markup or "1000" for a fixed amount.
	Profit string `toml:"profit"`
}

// Policy builds the validated trading policy of the trader.
func (t TraderConfig) Policy() (trader.Policy, error) {
	return trader.NewPolicy(t.Spend, t.Tolerance, t.StepPrice, t.TurnaroundPrice, t.Decimals, t.Pair, t.Profit)
}

// PostgresConfig holds PostgreSQL connection parameters. When enabled the
// trade journal and audit log are written to it, and with Snapshots set
// trader state is kept there instead of in snapshot files.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Snapshots     bool   `toml:"snapshots"`
}

// RedisConfig holds Redis connection parameters and the signal-bus names.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	LockTTL     duration `toml:"lock_ttl"`
	Channel     string   `toml:"channel"`
	Stream      string   `toml:"stream"`
	StreamStart string   `toml:"stream_start"`
	// UseStream makes the bus source read the durable stream rather than
	// the pub/sub channel.
	UseStream bool `toml:"use_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RecorderConfig controls event recording in ingest mode.
type RecorderConfig struct {
	Enabled     bool   `toml:"enabled"`
	Dir         string `toml:"dir"`
	Prefix      string `toml:"prefix"`
	RotateBytes int64  `toml:"rotate_bytes"`
	// Upload sends finished segments to S3.
	Upload bool `toml:"upload"`
}

// ReplayConfig selects the recorded segments replay mode reads.
type ReplayConfig struct {
	Dir    string `toml:"dir"`
	Prefix string `toml:"prefix"`
	FromS3 bool   `toml:"from_s3"`
}

// ServerConfig controls the health endpoints served in trade and ingest mode.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ArchiveConfig controls the export of the trade journal to S3.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		Source:   "ws",
		LogLevel: "info",
		Marketplace: MarketplaceConfig{
			APIURL:         "https://api.bitcoin.de/v4",
			RequestsPerSec: 2,
			Burst:          4,
			Timeout:        duration{30 * time.Second},
			ReconnectDelay: duration{2 * time.Second},
			DedupTTL:       duration{10 * time.Minute},
			FeeRate:        "0",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gannbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			LockTTL:     duration{30 * time.Second},
			Channel:     "gannbot:events",
			Stream:      "gannbot:events:stream",
			StreamStart: "$",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gannbot-data",
			ForcePathStyle: true,
		},
		Recorder: RecorderConfig{
			Dir:         "data/segments",
			Prefix:      "events",
			RotateBytes: 64 << 20,
		},
		Replay: ReplayConfig{
			Dir:    "data/segments",
			Prefix: "events",
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Notify: NotifyConfig{
			DiscordUsername: "gannbot",
			Events:          []string{"trade_executed", "trader_started", "feed_stopped"},
		},
	}
}

// DefaultTrader returns the stock trader settings used to fill a
// [[traders]] table.
func DefaultTrader() TraderConfig {
	p := trader.DefaultPolicy()
	return TraderConfig{
		Spend:           p.Spend,
		Tolerance:       p.Tolerance,
		StepPrice:       p.StepPrice,
		TurnaroundPrice: p.TurnaroundPrice,
		Decimals:        p.Decimals,
		Pair:            string(p.Pair),
		Profit:          p.Profit.String(),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"ingest":  true,
	"replay":  true,
	"archive": true,
}

var validSources = map[string]bool{
	"ws":  true,
	"bus": true,
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
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, ingest, replay, archive)", c.Mode))
	}
	if !validSources[strings.ToLower(c.Source)] {
		errs = append(errs, fmt.Sprintf("unknown source %q (valid: ws, bus)", c.Source))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	readsWS := mode == "ingest" || (mode == "trade" && c.Source == "ws")
	if readsWS && c.Marketplace.WSURL == "" {
		errs = append(errs, "marketplace: ws_url must be set for mode "+mode)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must be set when enabled")
	}
	if mode == "trade" && c.Source == "bus" && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for source bus")
	}

	// Credentials are needed only when trades reach the live marketplace.
	if mode == "trade" && !c.Marketplace.DryRun {
		if c.Marketplace.APIKey == "" {
			errs = append(errs, "marketplace: api_key is required for live trading")
		}
		if c.Marketplace.APISecret == "" && c.Marketplace.EncryptedSecretPath == "" {
			errs = append(errs, "marketplace: either api_secret or encrypted_secret_path must be set for live trading")
		}
		if c.Marketplace.EncryptedSecretPath != "" && c.Marketplace.SecretPassword == "" {
			errs = append(errs, "marketplace: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Marketplace.RequestsPerSec <= 0 {
		errs = append(errs, "marketplace: requests_per_sec must be > 0")
	}
	if fee, err := decimal.NewFromString(c.Marketplace.FeeRate); err != nil {
		errs = append(errs, fmt.Sprintf("marketplace: fee_rate %q is not a decimal", c.Marketplace.FeeRate))
	} else if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "marketplace: fee_rate must be in [0, 1)")
	}

	if mode == "trade" || mode == "replay" || mode == "archive" {
		errs = append(errs, c.validateTraders()...)
	}

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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode == "ingest" && c.Recorder.Enabled {
		if c.Recorder.Dir == "" {
			errs = append(errs, "recorder: dir must not be empty")
		}
		if c.Recorder.Upload && !c.S3.Enabled {
			errs = append(errs, "recorder: upload requires s3 to be enabled")
		}
	}
	if mode == "ingest" && !c.Recorder.Enabled && !c.Redis.Enabled {
		errs = append(errs, "ingest: enable the recorder or redis, otherwise events go nowhere")
	}

	if mode == "replay" {
		if c.Replay.FromS3 && !c.S3.Enabled {
			errs = append(errs, "replay: from_s3 requires s3 to be enabled")
		}
		if !c.Replay.FromS3 && c.Replay.Dir == "" {
			errs = append(errs, "replay: dir must not be empty")
		}
	}

	if mode == "archive" {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres and s3 to be enabled")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateTraders() []string {
	if len(c.Traders) == 0 {
		return []string{"traders: at least one [[traders]] table is required"}
	}

	var errs []string
	seen := make(map[string]bool, len(c.Traders))
	for i, t := range c.Traders {
		label := fmt.Sprintf("traders[%d]", i)
		if t.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else {
			label = fmt.Sprintf("traders[%d] %q", i, t.Name)
			if seen[t.Name] {
				errs = append(errs, label+": duplicate name")
			}
			seen[t.Name] = true
		}
		if !c.Postgres.Snapshots && t.SnapshotPath == "" {
			errs = append(errs, label+": snapshot_path must be set (or enable postgres.snapshots)")
		}
		if t.Cash < 0 {
			errs = append(errs, label+": cash must be >= 0")
		}
		if _, err := t.Policy(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
		}
	}
	if c.Postgres.Snapshots && !c.Postgres.Enabled {
		errs = append(errs, "postgres: snapshots requires postgres to be enabled")
	}
	return errs
}
