package postgres

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresClient archives forecast summaries for downstream analytics. The
// filesystem tree remains the source of truth; this mirror is best-effort.
type PostgresClient struct {
	DB *gorm.DB
}

func NewClient(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresClient{DB: db}, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB, and
// runs AutoMigrate for the forecast record table.
func InitializeAndMigrate(dsn, serverDSN, dbName string, createDB bool) (*PostgresClient, error) {
	if createDB {
		if err := CreateDatabase(serverDSN, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewClient(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrateForecastRecord(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) AutoMigrateForecastRecord() error {
	if err := p.DB.AutoMigrate(&ForecastRecord{}); err != nil {
		return fmt.Errorf("auto-migrate forecast record table: %w", err)
	}
	return nil
}

func (p *PostgresClient) IsHealthy(ctx context.Context) bool {
	db, err := p.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (p *PostgresClient) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
