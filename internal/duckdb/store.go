package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/duckdb/migrate"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const defaultQueryTimeout = 30 * time.Second

// StoreConfig holds tunable parameters for the store.
type StoreConfig struct {
	QueryTimeout time.Duration
	// MaxRecords caps the logs table; the oldest records are evicted first.
	// Zero or negative disables the cap.
	MaxRecords int
	Logger     logr.Logger
}

// Store manages the DuckDB database connection. It implements both the
// event store (model.LogStore) and the settings store (model.SettingsStore).
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	maxRecords   int
	log          logr.Logger
	QueryTimeout time.Duration
}

var (
	_ model.LogStore      = (*Store)(nil)
	_ model.SettingsStore = (*Store)(nil)
)

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
func NewStore(dbPath string, conf ...StoreConfig) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		dbPath:       dbPath,
		maxRecords:   model.DefaultMaxRecords,
		log:          logr.Discard(),
		QueryTimeout: defaultQueryTimeout,
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.QueryTimeout > 0 {
			s.QueryTimeout = c.QueryTimeout
		}
		s.maxRecords = c.MaxRecords
		if c.Logger.GetSink() != nil {
			s.log = c.Logger.WithName("duckdb")
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// MaxRecords returns the retention cap (0 = unbounded).
func (s *Store) MaxRecords() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRecords
}

// SetMaxRecords changes the retention cap. The new cap is applied on the
// next write.
func (s *Store) SetMaxRecords(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRecords = n
}

// queryCtx derives a context bounded by the store's query timeout.
func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.QueryTimeout)
}
