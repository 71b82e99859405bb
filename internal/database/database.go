package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	// ErrTaskNotFound is returned when a task id is not present in the queue.
	ErrTaskNotFound = errors.New("task not found")
	// ErrBlobNotFound is returned when a staged blob key is unknown.
	ErrBlobNotFound = errors.New("staged blob not found")
	// ErrRecordNotFound is returned when no local record exists for a correlation id.
	ErrRecordNotFound = errors.New("local record not found")
)

// DB is the local durable store: the offline task queue, staged blobs and
// the local draft cache all live in one SQLite file.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps queue transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Local store initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the file backing the store.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT UNIQUE NOT NULL,
            task_type TEXT NOT NULL,
            correlation_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            last_attempt_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id TEXT PRIMARY KEY,
            task_type TEXT NOT NULL,
            correlation_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            retry_count INTEGER NOT NULL,
            max_retries INTEGER NOT NULL,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            failed_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS blobs (
            key TEXT PRIMARY KEY,
            file_name TEXT NOT NULL,
            content_type TEXT NOT NULL DEFAULT '',
            data BLOB NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS local_records (
            correlation_id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            step INTEGER NOT NULL DEFAULT 0,
            sub_step INTEGER NOT NULL DEFAULT 0,
            data TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT '',
            verification_status TEXT NOT NULL DEFAULT '',
            pending BOOLEAN NOT NULL DEFAULT 0,
            deleted BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_correlation_id ON tasks(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_local_records_owner ON local_records(owner_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back when fn fails.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func (db *DB) Close() error {
	return db.DB.Close()
}
