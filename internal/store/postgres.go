package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Fernly/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists learning documents, the reply outbox and the inbound
// dedup table in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Persister = (*PostgresStore)(nil)

// NewPostgresStore connects to Postgres and applies the migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Load returns the owner's learning document, or nil if none is stored.
func (s *PostgresStore) Load(ctx context.Context, owner string) (*models.LearningDocument, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM learning_documents WHERE owner_id = $1`, owner).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore Load not found", "owner", owner)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Load failed", "error", err, "owner", owner)
		return nil, fmt.Errorf("failed to load learning document for %s: %w", owner, err)
	}
	return decodeDocument(data)
}

// Save upserts the owner's learning document.
func (s *PostgresStore) Save(ctx context.Context, owner string, doc *models.LearningDocument) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_documents (owner_id, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		owner, data, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore Save failed", "error", err, "owner", owner)
		return fmt.Errorf("failed to save learning document for %s: %w", owner, err)
	}
	slog.Debug("PostgresStore Save succeeded", "owner", owner, "bytes", len(data))
	return nil
}

// Delete removes the owner's learning document.
func (s *PostgresStore) Delete(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM learning_documents WHERE owner_id = $1`, owner); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "owner", owner)
		return fmt.Errorf("failed to delete learning document for %s: %w", owner, err)
	}
	return nil
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
