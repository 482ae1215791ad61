package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from env / config file.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Storage       StorageConfig      `mapstructure:"storage"`
	S3            S3Config           `mapstructure:"s3"`
	JWT           JWTConfig          `mapstructure:"jwt"`
	Worker        WorkerConfig       `mapstructure:"worker"`
	KMS           KMSConfig          `mapstructure:"kms"`
	Export        ExportConfig       `mapstructure:"export"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`  // development | production
	Port    int    `mapstructure:"port"` // HTTP API port
	Version string `mapstructure:"version"`
	// LogLevel overrides the default level of Env (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`
	// RateLimit is the sustained request rate allowed per client IP.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// CreateRateLimit is the sustained rate of export creations per user.
	CreateRateLimit float64 `mapstructure:"create_rate_limit"`
	CreateRateBurst int     `mapstructure:"create_rate_burst"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "s3", "fs", "multi"
	FSRoot  string `mapstructure:"fs_root"` // Root directory for filesystem
}

// S3Config holds credentials for an S3-compatible provider.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// ForcePathStyle must be true for Garage / MinIO
	ForcePathStyle bool `mapstructure:"force_path_style"`
	// StorageClass e.g. STANDARD, REDUCED_REDUNDANCY
	StorageClass string `mapstructure:"storage_class"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
	// ServiceKeys maps service key lookup prefixes to bcrypt hashes
	// (see exportctl keygen).
	ServiceKeys map[string]string `mapstructure:"service_keys"`
}

type WorkerConfig struct {
	// How often expired artifacts are swept
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Max concurrent export jobs per worker process
	Concurrency int `mapstructure:"concurrency"`
	// Upper bound on a single export run
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type KMSConfig struct {
	Key string `mapstructure:"key"`
}

// SheetLimit bounds one spreadsheet format.
type SheetLimit struct {
	MaxColumns int `mapstructure:"max_columns"`
	MaxRows    int `mapstructure:"max_rows"`
}

// CollectionNames names the reference collections of the record source.
type CollectionNames struct {
	Location      string `mapstructure:"location"`
	LanguageToken string `mapstructure:"language_token"`
}

type ExportConfig struct {
	BatchSize             int             `mapstructure:"batch_size"`
	TmpDir                string          `mapstructure:"tmp_dir"`
	DefaultLanguage       string          `mapstructure:"default_language"`
	AnonymizePlaceholder  string          `mapstructure:"anonymize_placeholder"`
	TokenPrefix           string          `mapstructure:"token_prefix"`
	LocationBatchSize     int             `mapstructure:"location_batch_size"`
	RenderWorkers         int             `mapstructure:"render_workers"`
	XLSX                  SheetLimit      `mapstructure:"xlsx"`
	XLS                   SheetLimit      `mapstructure:"xls"`
	Collections           CollectionNames `mapstructure:"collections"`
	ArtifactRetentionDays int             `mapstructure:"artifact_retention_days"`
}

type NotificationConfig struct {
	// SlackWebhookURL enables Slack notifications; console is used otherwise.
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from environment variables and optional config file.
// Environment variable prefix: EXPORTER_
// Example: EXPORTER_APP_PORT=8080.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// ---------- config file (optional) ----------
	v.SetConfigName("exporter")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/exporter")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// ---------- env vars ----------
	v.SetEnvPrefix("EXPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "exporter")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.rate_limit", 5)
	v.SetDefault("app.rate_burst", 20)
	v.SetDefault("app.create_rate_limit", 0.2)
	v.SetDefault("app.create_rate_burst", 3)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.fs_root", "./data/exports")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.storage_class", "STANDARD")

	v.SetDefault("jwt.expiration", "24h")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("kms.key", "")

	v.SetDefault("worker.sweep_interval", "1h")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.job_timeout", "2h")

	v.SetDefault("export.batch_size", 1000)
	v.SetDefault("export.tmp_dir", "")
	v.SetDefault("export.default_language", "english_us")
	v.SetDefault("export.anonymize_placeholder", "***")
	v.SetDefault("export.token_prefix", "LNG_")
	v.SetDefault("export.location_batch_size", 500)
	v.SetDefault("export.render_workers", 4)
	v.SetDefault("export.xlsx.max_columns", 16000)
	v.SetDefault("export.xlsx.max_rows", 1000000)
	v.SetDefault("export.xls.max_columns", 250)
	v.SetDefault("export.xls.max_rows", 12000)
	v.SetDefault("export.collections.location", "location")
	v.SetDefault("export.collections.language_token", "languageToken")
	v.SetDefault("export.artifact_retention_days", 7)

	v.SetDefault("notifications.slack_webhook_url", "")
	v.SetDefault("notifications.timeout", "10s")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("config: export.batch_size must be positive")
	}
	// Hard caps of the spreadsheet formats themselves.
	if c.Export.XLSX.MaxColumns > 16384 || c.Export.XLSX.MaxRows > 1048575 {
		return fmt.Errorf("config: export.xlsx limits exceed the format")
	}
	if c.Export.XLS.MaxColumns > 256 || c.Export.XLS.MaxRows > 65535 {
		return fmt.Errorf("config: export.xls limits exceed the format")
	}
	switch c.Storage.Backend {
	case "fs", "s3", "multi":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
