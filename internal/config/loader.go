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
// built-in defaults, applies SIGNALBOARD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGNALBOARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "SIGNALBOARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGNALBOARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGNALBOARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGNALBOARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGNALBOARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGNALBOARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGNALBOARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGNALBOARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGNALBOARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGNALBOARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SIGNALBOARD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SIGNALBOARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALBOARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALBOARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALBOARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALBOARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALBOARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SIGNALBOARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGNALBOARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGNALBOARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGNALBOARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGNALBOARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGNALBOARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGNALBOARD_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Kind, "SIGNALBOARD_FEED_KIND")
	setStr(&cfg.Feed.Channel, "SIGNALBOARD_FEED_CHANNEL")
	setStringSlice(&cfg.Feed.Brokers, "SIGNALBOARD_FEED_BROKERS")
	setStr(&cfg.Feed.Topic, "SIGNALBOARD_FEED_TOPIC")
	setStr(&cfg.Feed.GroupID, "SIGNALBOARD_FEED_GROUP_ID")

	// ── Engine ──
	setInt(&cfg.Engine.QueueSize, "SIGNALBOARD_ENGINE_QUEUE_SIZE")
	setDuration(&cfg.Engine.PersistTimeout, "SIGNALBOARD_ENGINE_PERSIST_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGNALBOARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALBOARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGNALBOARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SIGNALBOARD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SIGNALBOARD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALBOARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALBOARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALBOARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "SIGNALBOARD_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "SIGNALBOARD_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "SIGNALBOARD_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SIGNALBOARD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SIGNALBOARD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SIGNALBOARD_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALBOARD_MODE")
	setStr(&cfg.LogLevel, "SIGNALBOARD_LOG_LEVEL")
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
