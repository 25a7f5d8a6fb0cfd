package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Log      LogConfig      `mapstructure:"log"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// StorageConfig resolves the storage root and retention policy.
type StorageConfig struct {
	Root          string `mapstructure:"root"`           // storage tree root directory
	Format        string `mapstructure:"format"`         // "parquet" or "csv"
	RetentionDays int    `mapstructure:"retention_days"` // files older than this are swept by maintenance
}

// FallbackConfig tunes the fallback search and persistence behavior.
type FallbackConfig struct {
	MaxSearchDays int    `mapstructure:"max_search_days"` // backward search bound
	AllowCascade  bool   `mapstructure:"allow_cascade"`   // a fallback may source another fallback
	Persist       bool   `mapstructure:"persist"`         // write adjusted forecasts back to storage
	EventLog      string `mapstructure:"event_log"`       // activation event file (optional)
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// ArchiveConfig controls the optional Postgres forecast archive.
type ArchiveConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	v.SetDefault("storage.format", "parquet")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("fallback.max_search_days", 7)
	v.SetDefault("fallback.allow_cascade", true)
	v.SetDefault("fallback.persist", true)
	v.SetDefault("log.level", "info")

	// Support environment variables with dot notation (e.g., STORAGE_ROOT)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
