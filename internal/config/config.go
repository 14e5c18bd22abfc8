// Package config loads tracker configuration from defaults, an optional YAML
// file and TRACKER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. TRACKER_STORE_PATH.
const EnvPrefix = "TRACKER"

// Config represents the complete application configuration.
type Config struct {
	Scrape   ScrapeConfig   `mapstructure:"scrape"   yaml:"scrape"`
	Store    StoreConfig    `mapstructure:"store"    yaml:"store"`
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Export   ExportConfig   `mapstructure:"export"   yaml:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// ScrapeConfig controls the listing fetcher and the batch orchestrator.
type ScrapeConfig struct {
	BaseURL           string         `mapstructure:"base_url"            yaml:"base_url"`
	Pages             int            `mapstructure:"pages"               yaml:"pages"`
	Mode              string         `mapstructure:"mode"                yaml:"mode"`            // "sequential", "fast", "safe"
	BatchSize         int            `mapstructure:"batch_size"          yaml:"batch_size"`      // 0 = mode preset
	Pause             *time.Duration `mapstructure:"pause"               yaml:"pause,omitempty"` // unset = mode preset, 0 = no pause
	Timeout           time.Duration  `mapstructure:"timeout"             yaml:"timeout"`
	MaxRedirects      int            `mapstructure:"max_redirects"       yaml:"max_redirects"`
	UserAgent         string         `mapstructure:"user_agent"          yaml:"user_agent"`
	RequestsPerSecond float64        `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int            `mapstructure:"burst"               yaml:"burst"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"   yaml:"driver"` // "sqlite" or "postgres"
	Path     string         `mapstructure:"path"     yaml:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds connection settings for the postgres store.
type PostgresConfig struct {
	Host     string `mapstructure:"host"      yaml:"host"`
	Port     int    `mapstructure:"port"      yaml:"port"`
	Name     string `mapstructure:"name"      yaml:"name"`
	User     string `mapstructure:"user"      yaml:"user"`
	Password string `mapstructure:"password"  yaml:"password"`
	SSLMode  string `mapstructure:"ssl_mode"  yaml:"ssl_mode"`
	MinConns int    `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// ServerConfig holds read API settings.
type ServerConfig struct {
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// ScheduleConfig controls periodic ingestion.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ExportConfig lists the optional sinks a committed pass is written to.
type ExportConfig struct {
	CSVPath            string   `mapstructure:"csv_path"            yaml:"csv_path"`
	CSVAppend          bool     `mapstructure:"csv_append"          yaml:"csv_append"`
	ParquetDir         string   `mapstructure:"parquet_dir"         yaml:"parquet_dir"`
	ParquetCompression string   `mapstructure:"parquet_compression" yaml:"parquet_compression"` // "snappy", "gzip", "none"
	S3                 S3Config `mapstructure:"s3"                  yaml:"s3"`
}

// S3Config holds object storage settings for the parquet archive.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"           yaml:"enabled"`
	Bucket          string `mapstructure:"bucket"            yaml:"bucket"`
	Prefix          string `mapstructure:"prefix"            yaml:"prefix"`
	Region          string `mapstructure:"region"            yaml:"region"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"        yaml:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // "debug", "info", "warn", "error"
	File  string `mapstructure:"file"  yaml:"file"`  // empty = stdout only
}

// Load reads the configuration. When path is empty the file is looked up as
// ./config/config.yaml or ./config.yaml and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// scrape.pause has no default so that an unset value stays nil
	_ = v.BindEnv("scrape.pause")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.base_url", "https://coinmarketcap.com/")
	v.SetDefault("scrape.pages", 10)
	v.SetDefault("scrape.mode", "fast")
	v.SetDefault("scrape.batch_size", 0)
	v.SetDefault("scrape.timeout", 20*time.Second)
	v.SetDefault("scrape.max_redirects", 5)
	v.SetDefault("scrape.user_agent", "")
	v.SetDefault("scrape.requests_per_second", 0.0)
	v.SetDefault("scrape.burst", 1)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "coins.db")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.name", "coins")
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.ssl_mode", "prefer")
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conns", 5)

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("schedule.interval", 15*time.Minute)

	v.SetDefault("export.csv_path", "")
	v.SetDefault("export.csv_append", true)
	v.SetDefault("export.parquet_dir", "")
	v.SetDefault("export.parquet_compression", "snappy")
	v.SetDefault("export.s3.enabled", false)
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.prefix", "listing")
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.path_style", false)
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.Store.Postgres.Password = mask(c.Store.Postgres.Password)
	masked.Export.S3.AccessKeyID = mask(c.Export.S3.AccessKeyID)
	masked.Export.S3.SecretAccessKey = mask(c.Export.S3.SecretAccessKey)
	return yaml.Marshal(&masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
