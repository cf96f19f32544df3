// Package store provides storage backends for Fernly.
//
// Every backend persists one learning document per owner. The SQL backends also
// keep the SMS reply outbox and the inbound webhook dedup table.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Fernly/internal/models"
)

// Persister loads and saves learning documents keyed by owner.
type Persister interface {
	// Load returns the stored document, or nil and no error when none exists.
	Load(ctx context.Context, owner string) (*models.LearningDocument, error)
	Save(ctx context.Context, owner string, doc *models.LearningDocument) error
	Delete(ctx context.Context, owner string) error
	Close() error
}

// Opts holds configuration for the storage backends.
type Opts struct {
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisAddr sets the Redis server address and credentials.
func WithRedisAddr(addr, password string, db int) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
		o.RedisPassword = password
		o.RedisDB = db
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithTTL expires Redis documents after the given idle time. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// URLs and key/value connection strings, otherwise "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

func encodeDocument(doc *models.LearningDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode learning document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*models.LearningDocument, error) {
	var doc models.LearningDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode learning document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// InMemoryStore keeps documents in process memory. Documents are stored as
// encoded JSON so callers never share state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	docs    map[string][]byte
	inbound map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		docs:    make(map[string][]byte),
		inbound: make(map[string]bool),
	}
}

var (
	_ Persister = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) Load(_ context.Context, owner string) (*models.LearningDocument, error) {
	s.mu.RLock()
	data, ok := s.docs[owner]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeDocument(data)
}

func (s *InMemoryStore) Save(_ context.Context, owner string, doc *models.LearningDocument) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[owner] = data
	s.mu.Unlock()
	slog.Debug("InMemoryStore Save succeeded", "owner", owner, "bytes", len(data))
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, owner string) error {
	s.mu.Lock()
	delete(s.docs, owner)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbound[messageID] {
		return false, nil
	}
	s.inbound[messageID] = true
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, _ string) error {
	return nil
}
