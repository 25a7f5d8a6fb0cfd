package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to the forecast
// archive database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the connection string. In prod the host and credentials come
// from SSM Parameter Store instead of the config file.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password
	if env == "prod" {
		host = getParameterStoreValue("POWERCAST_ARCHIVE_DB_HOST", true)
		user = getParameterStoreValue("POWERCAST_ARCHIVE_DB_USER", true)
		password = getParameterStoreValue("POWERCAST_ARCHIVE_DB_PASSWORD", true)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)

	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}

	return dsn
}

// ServerDSN connects to the default "postgres" database on the same server,
// used when creating the archive database.
func (cfg *PostgresConfig) ServerDSN(env string) string {
	server := *cfg
	server.DBName = "postgres"
	return server.DSN(env)
}

func getParameterStoreValue(parameterName string, decrypt bool) string {
	baseCtx := context.Background()
	ctxWithTimeout, cancel := context.WithTimeout(baseCtx, 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctxWithTimeout)
	if err != nil {
		return ""
	}

	client := ssm.NewFromConfig(cfg)

	input := &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	}

	result, err := client.GetParameter(ctxWithTimeout, input)
	if err != nil {
		return ""
	}

	if result.Parameter.Value == nil {
		return ""
	}

	return *result.Parameter.Value
}
