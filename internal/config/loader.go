package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GANNBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Parse decodes TOML text on top of the defaults. Keys left out of a
// [[traders]] table take the stock policy values. Unknown keys are an error.
func Parse(text string) (*Config, error) {
	cfg := Defaults()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	// Decoding each table again into a pre-filled value keeps the defaults
	// for absent keys.
	var raw struct {
		Traders []toml.Primitive `toml:"traders"`
	}
	rawMD, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode traders: %w", err)
	}
	for i, prim := range raw.Traders {
		t := DefaultTrader()
		if err := rawMD.PrimitiveDecode(prim, &t); err != nil {
			return nil, fmt.Errorf("decode traders[%d]: %w", i, err)
		}
		cfg.Traders[i] = t
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known GANNBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "GANNBOT_MODE")
	setStr(&cfg.Source, "GANNBOT_SOURCE")
	setStr(&cfg.LogLevel, "GANNBOT_LOG_LEVEL")

	// ── Marketplace ──
	setStr(&cfg.Marketplace.APIURL, "GANNBOT_MARKETPLACE_API_URL")
	setStr(&cfg.Marketplace.WSURL, "GANNBOT_MARKETPLACE_WS_URL")
	setStr(&cfg.Marketplace.APIKey, "GANNBOT_MARKETPLACE_API_KEY")
	setStr(&cfg.Marketplace.APISecret, "GANNBOT_MARKETPLACE_API_SECRET")
	setStr(&cfg.Marketplace.EncryptedSecretPath, "GANNBOT_MARKETPLACE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Marketplace.SecretPassword, "GANNBOT_MARKETPLACE_SECRET_PASSWORD")
	setFloat64(&cfg.Marketplace.RequestsPerSec, "GANNBOT_MARKETPLACE_REQUESTS_PER_SEC")
	setInt(&cfg.Marketplace.Burst, "GANNBOT_MARKETPLACE_BURST")
	setDuration(&cfg.Marketplace.Timeout, "GANNBOT_MARKETPLACE_TIMEOUT")
	setDuration(&cfg.Marketplace.ReconnectDelay, "GANNBOT_MARKETPLACE_RECONNECT_DELAY")
	setDuration(&cfg.Marketplace.DedupTTL, "GANNBOT_MARKETPLACE_DEDUP_TTL")
	setBool(&cfg.Marketplace.DryRun, "GANNBOT_MARKETPLACE_DRY_RUN")
	setStr(&cfg.Marketplace.FeeRate, "GANNBOT_MARKETPLACE_FEE_RATE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GANNBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GANNBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "GANNBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GANNBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GANNBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GANNBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GANNBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GANNBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GANNBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GANNBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GANNBOT_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Snapshots, "GANNBOT_POSTGRES_SNAPSHOTS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GANNBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GANNBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GANNBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GANNBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GANNBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GANNBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GANNBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "GANNBOT_REDIS_LOCK_TTL")
	setStr(&cfg.Redis.Channel, "GANNBOT_REDIS_CHANNEL")
	setStr(&cfg.Redis.Stream, "GANNBOT_REDIS_STREAM")
	setStr(&cfg.Redis.StreamStart, "GANNBOT_REDIS_STREAM_START")
	setBool(&cfg.Redis.UseStream, "GANNBOT_REDIS_USE_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GANNBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GANNBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GANNBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GANNBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GANNBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GANNBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GANNBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GANNBOT_S3_FORCE_PATH_STYLE")

	// ── Recorder / replay / archive ──
	setBool(&cfg.Recorder.Enabled, "GANNBOT_RECORDER_ENABLED")
	setStr(&cfg.Recorder.Dir, "GANNBOT_RECORDER_DIR")
	setStr(&cfg.Recorder.Prefix, "GANNBOT_RECORDER_PREFIX")
	setInt64(&cfg.Recorder.RotateBytes, "GANNBOT_RECORDER_ROTATE_BYTES")
	setBool(&cfg.Recorder.Upload, "GANNBOT_RECORDER_UPLOAD")
	setStr(&cfg.Replay.Dir, "GANNBOT_REPLAY_DIR")
	setStr(&cfg.Replay.Prefix, "GANNBOT_REPLAY_PREFIX")
	setBool(&cfg.Replay.FromS3, "GANNBOT_REPLAY_FROM_S3")
	setInt(&cfg.Archive.RetentionDays, "GANNBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "GANNBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GANNBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "GANNBOT_SERVER_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPI, "GANNBOT_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.TelegramToken, "GANNBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GANNBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GANNBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "GANNBOT_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "GANNBOT_NOTIFY_EVENTS")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
