package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nijaru/yt-analyze/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    manifest_path TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS results (
    run_id TEXT NOT NULL,
    entry_id TEXT NOT NULL,
    backend TEXT NOT NULL,
    success INTEGER NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    error_kind TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, entry_id, backend)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
`

type DBConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxRetries:         3,
		RetryDelay:         200 * time.Millisecond,
		MaxConnections:     1,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    time.Hour,
	}
}

func InitDB(dbPath string, config DBConfig) (*sql.DB, error) {
	const op = "sqlite.InitDB"

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Internal(op, err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to open database")
	}

	// SQLite has a single writer; pool size defaults to one connection.
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxIdleConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := execSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func configurePragmas(db *sql.DB) error {
	const op = "sqlite.configurePragmas"

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to set pragma: %s", pragma))
		}
	}

	return nil
}

func execSchema(db *sql.DB) error {
	const op = "sqlite.execSchema"

	statements := strings.Split(schema, ";")

	tx, err := db.Begin()
	if err != nil {
		return errors.Internal(op, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		if _, err := tx.Exec(stmt); err != nil {
			return errors.Internal(
				op,
				err,
				fmt.Sprintf("failed to execute schema statement: %s", stmt),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Internal(op, err, "failed to commit schema transaction")
	}

	return nil
}

// withRetry retries fn while SQLite reports lock contention.
func withRetry(ctx context.Context, config DBConfig, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < config.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Internal(op, err, "context cancelled")
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isLockError(err) {
			return err
		}
		lastErr = err

		select {
		case <-time.After(config.RetryDelay * time.Duration(i+1)):
		case <-ctx.Done():
			return errors.Internal(op, ctx.Err(), "context cancelled")
		}
	}
	return errors.Internal(op, lastErr, "max retries exceeded")
}

func isLockError(err error) bool {
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "busy")
}
