package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"catalog-sync-service/internal/syncerr"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Secrets        SecretsConfig
	Queue          QueueRuntimeConfig
	Reconciliation ReconciliationConfig
	Webhooks       WebhooksConfig
	Platforms      PlatformsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string // development, staging, production
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds optional Redis settings; when Host is empty the webhook
// idempotency store falls back to in-memory.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	CORSAllowOrigins []string
	MetricsEnabled   bool
}

// SecretsConfig selects the credential vault backend.
type SecretsConfig struct {
	// Backend is "local" (AES-GCM over the connections table) or "gcp".
	Backend      string
	GCPProjectID string
	// LocalKey is the base64 256-bit key for the local vault backend.
	LocalKey string
}

// QueueRuntimeConfig holds queue worker settings shared across queues.
type QueueRuntimeConfig struct {
	PollInterval    time.Duration
	StallSweepCron  string
	PushMinInterval time.Duration // spacing between push-operation jobs
}

// ReconciliationConfig holds the scheduled reconciliation sweep settings.
type ReconciliationConfig struct {
	Enabled  bool
	Cron     string
	MaxAge   time.Duration // enqueue when lastReconciliationAt older than this
	PageSize int
}

// WebhooksConfig holds webhook event retention settings. Processed and
// dead-lettered events older than Retention are pruned on PruneCron.
type WebhooksConfig struct {
	Retention time.Duration
	PruneCron string
}

// PlatformsConfig holds per-platform client settings.
type PlatformsConfig struct {
	ShopifyAPIVersion    string
	ShopifyWebhookSecret string
	SquareWebhookSecret  string
	CloverWebhookSecret  string
	SquareBaseURL        string
	CloverBaseURL        string
}

// Load loads configuration from config.toml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, syncerr.Wrap(syncerr.KindConfig, err, "error reading config file")
		}
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			MetricsEnabled:   v.GetBool("http.metrics_enabled"),
		},
		Secrets: SecretsConfig{
			Backend:      v.GetString("secrets.backend"),
			GCPProjectID: v.GetString("secrets.gcp_project_id"),
			LocalKey:     v.GetString("secrets.local_key"),
		},
		Queue: QueueRuntimeConfig{
			PollInterval:    v.GetDuration("queue.poll_interval"),
			StallSweepCron:  v.GetString("queue.stall_sweep_cron"),
			PushMinInterval: v.GetDuration("queue.push_min_interval"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:  v.GetBool("reconciliation.enabled"),
			Cron:     v.GetString("reconciliation.cron"),
			MaxAge:   v.GetDuration("reconciliation.max_age"),
			PageSize: v.GetInt("reconciliation.page_size"),
		},
		Webhooks: WebhooksConfig{
			Retention: v.GetDuration("webhooks.retention"),
			PruneCron: v.GetString("webhooks.prune_cron"),
		},
		Platforms: PlatformsConfig{
			ShopifyAPIVersion:    v.GetString("platforms.shopify_api_version"),
			ShopifyWebhookSecret: v.GetString("platforms.shopify_webhook_secret"),
			SquareWebhookSecret:  v.GetString("platforms.square_webhook_secret"),
			CloverWebhookSecret:  v.GetString("platforms.clover_webhook_secret"),
			SquareBaseURL:        v.GetString("platforms.square_base_url"),
			CloverBaseURL:        v.GetString("platforms.clover_base_url"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "catalog-sync-service"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "catalog_sync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.Secrets.Backend == "" {
		cfg.Secrets.Backend = "local"
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 2 * time.Second
	}
	if cfg.Queue.StallSweepCron == "" {
		cfg.Queue.StallSweepCron = "*/5 * * * *"
	}
	if cfg.Queue.PushMinInterval == 0 {
		cfg.Queue.PushMinInterval = 60 * time.Second
	}
	if cfg.Reconciliation.Cron == "" {
		cfg.Reconciliation.Cron = "0 * * * *"
	}
	if cfg.Reconciliation.MaxAge == 0 {
		cfg.Reconciliation.MaxAge = 24 * time.Hour
	}
	if cfg.Reconciliation.PageSize == 0 {
		cfg.Reconciliation.PageSize = 50
	}
	if cfg.Webhooks.Retention == 0 {
		cfg.Webhooks.Retention = 72 * time.Hour
	}
	if cfg.Webhooks.PruneCron == "" {
		cfg.Webhooks.PruneCron = "30 3 * * *"
	}
	if cfg.Platforms.ShopifyAPIVersion == "" {
		cfg.Platforms.ShopifyAPIVersion = "2024-01"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Secrets.Backend {
	case "local":
		if cfg.App.Env == "production" && cfg.Secrets.LocalKey == "" {
			return syncerr.New(syncerr.KindConfig, "secrets.local_key is required with the local vault in production")
		}
	case "gcp":
		if cfg.Secrets.GCPProjectID == "" {
			return syncerr.New(syncerr.KindConfig, "secrets.gcp_project_id is required with the gcp vault")
		}
	default:
		return syncerr.New(syncerr.KindConfig, "unknown secrets backend %q", cfg.Secrets.Backend)
	}
	if cfg.App.Env == "production" && cfg.Database.Password == "" {
		return syncerr.New(syncerr.KindConfig, "database.password is required in production")
	}
	return nil
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Addr returns the Redis host:port address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IsConfigured reports whether Redis settings are present.
func (r RedisConfig) IsConfigured() bool {
	return r.Host != ""
}
