package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/Fernly/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists learning documents, the reply outbox and the inbound
// dedup table in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Persister = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the SQLite database named by the DSN.
// The parent directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Load returns the owner's learning document, or nil if none is stored.
func (s *SQLiteStore) Load(ctx context.Context, owner string) (*models.LearningDocument, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM learning_documents WHERE owner_id = ?`, owner).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore Load not found", "owner", owner)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Load failed", "error", err, "owner", owner)
		return nil, fmt.Errorf("failed to load learning document for %s: %w", owner, err)
	}
	return decodeDocument([]byte(data))
}

// Save replaces the owner's learning document.
func (s *SQLiteStore) Save(ctx context.Context, owner string, doc *models.LearningDocument) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO learning_documents (owner_id, document, updated_at) VALUES (?, ?, ?)`,
		owner, string(data), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore Save failed", "error", err, "owner", owner)
		return fmt.Errorf("failed to save learning document for %s: %w", owner, err)
	}
	slog.Debug("SQLiteStore Save succeeded", "owner", owner, "bytes", len(data))
	return nil
}

// Delete removes the owner's learning document.
func (s *SQLiteStore) Delete(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM learning_documents WHERE owner_id = ?`, owner); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "owner", owner)
		return fmt.Errorf("failed to delete learning document for %s: %w", owner, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "owner", owner)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
