package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// CreateDatabase connects to the postgres server and creates the archive
// database if it doesn't exist. serverDSN must point at an existing database
// (normally "postgres") on the same server.
func CreateDatabase(serverDSN, dbName string) error {
	db, err := sql.Open("postgres", serverDSN)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer db.Close()

	// Check if database exists
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := db.QueryRow(query, dbName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}

	if exists {
		return nil // DB already exists
	}

	// Create the database
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName))
	if err != nil {
		return fmt.Errorf("create db failed: %w", err)
	}

	return nil
}
