package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB is the persistence collaborator for accounts, jobs and settlements.
// The same SQL runs on Postgres (production) and SQLite (local dev, tests).
type DB struct {
	*sql.DB
	Driver string
}

// New opens a database handle for driver "postgres" or "sqlite" and verifies it.
func New(driver, url string) (*DB, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// Pragmas are per connection, so keep a single one.
		sqlDB.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := sqlDB.Exec(pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: sqlDB, Driver: driver}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		tokens        INTEGER NOT NULL DEFAULT 2 CHECK (tokens >= 0),
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		owner_account_id TEXT REFERENCES accounts(id),
		params           TEXT NOT NULL DEFAULT '{}',
		status           TEXT NOT NULL,
		result_ref       TEXT NOT NULL DEFAULT '',
		provider         TEXT NOT NULL DEFAULT '',
		error_message    TEXT,
		created_at       TIMESTAMP NOT NULL,
		finished_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_kind_created ON jobs (kind, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs (owner_account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		tokens     INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the tables and indexes when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
