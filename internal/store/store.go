// Package store is an embedded, indexed document store on SQLite.
//
// Records are grouped into named collections, keyed by a single id field and
// optionally exposed through secondary indexes (including multi-entry
// indexes over array fields). The set of collections and indexes is versioned:
// opening with a higher schema version creates whatever is missing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/apperr"
)

const engineSchemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
	name     TEXT PRIMARY KEY,
	key_path TEXT NOT NULL DEFAULT 'id'
);

CREATE TABLE IF NOT EXISTS indexes (
	collection  TEXT NOT NULL,
	name        TEXT NOT NULL,
	key_path    TEXT NOT NULL,
	key_type    INTEGER NOT NULL DEFAULT 0,
	is_unique   INTEGER NOT NULL DEFAULT 0,
	multi_entry INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection, name)
);

CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS index_entries (
	collection TEXT NOT NULL,
	index_name TEXT NOT NULL,
	key        BLOB,
	id         TEXT NOT NULL,
	PRIMARY KEY (collection, index_name, key, id)
);

CREATE INDEX IF NOT EXISTS idx_entries_record ON index_entries(collection, id);
`

// KeyType tells the store how to turn a field value into a sortable key.
type KeyType int

// Key types.
const (
	// KeyAuto uses the JSON value as-is: text, number, or bool (0/1).
	KeyAuto KeyType = iota
	// KeyTime parses RFC 3339 text into Unix nanoseconds.
	KeyTime
)

// IndexDef declares a secondary index on a collection.
type IndexDef struct {
	Name    string
	KeyPath string // dotted JSON path, e.g. "sync.version"
	Type    KeyType
	Unique  bool
	// MultiEntry indexes every distinct element of an array field.
	MultiEntry bool
}

// CollectionDef declares a collection and its indexes.
type CollectionDef struct {
	Name    string
	KeyPath string // defaults to "id"
	Indexes []IndexDef
}

func (c *CollectionDef) index(name string) (*IndexDef, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Name == name {
			return &c.Indexes[i], true
		}
	}
	return nil, false
}

// Config describes the database to open.
type Config struct {
	// Path is the SQLite file.
	Path string
	// Version is the requested schema version; it must be >= 1 and never
	// lower than the version already on disk.
	Version int
	// Collections is applied only when Version exceeds the stored version.
	Collections []CollectionDef
	Logger      *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DB is an open store. It is safe for concurrent use; the engine serialises
// conflicting writes.
type DB struct {
	conn    *sql.DB
	version int
	defs    map[string]*CollectionDef
	names   []string
	logger  *slog.Logger
	clock   func() time.Time
	closed  atomic.Bool
}

// Open opens (or creates) the database and upgrades its schema when
// cfg.Version exceeds the stored version.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	const op = "open"
	if cfg.Path == "" {
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, op, "path is empty")
	}
	if cfg.Version < 1 {
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, op, fmt.Sprintf("invalid schema version %d", cfg.Version))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
	}
	if _, err := conn.ExecContext(ctx, engineSchemaSQL); err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, fmt.Errorf("apply engine schema: %w", err))
	}

	stored, err := userVersion(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
	}

	switch {
	case cfg.Version < stored:
		conn.Close()
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, op,
			fmt.Sprintf("requested version %d is lower than stored version %d", cfg.Version, stored))
	case cfg.Version > stored:
		if err := upgrade(ctx, conn, cfg.Collections, stored, cfg.Version); err != nil {
			conn.Close()
			return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
		}
		logger.Info("store: schema upgraded",
			slog.String("path", cfg.Path),
			slog.Int("from", stored),
			slog.Int("to", cfg.Version))
	}

	defs, names, err := loadDefs(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &DB{
		conn:    conn,
		version: cfg.Version,
		defs:    defs,
		names:   names,
		logger:  logger,
		clock:   clock,
	}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Close closes the underlying connection. Later calls fail with
// ErrDatabaseOpenFailed.
func (db *DB) Close() error {
	if db == nil || !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	return db.conn.Close()
}

// Version returns the schema version the store was opened with.
func (db *DB) Version() int { return db.version }

// Collections returns the collection names in the schema, sorted.
func (db *DB) Collections() []string {
	return append([]string(nil), db.names...)
}

func (db *DB) now() time.Time {
	return db.clock().UTC()
}

func (db *DB) newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", apperr.Wrap(apperr.ErrUnknown, "generate id", err)
	}
	return id.String(), nil
}

// collection resolves a collection definition, checking the store is usable.
func (db *DB) collection(op, name string) (*CollectionDef, error) {
	if db == nil || db.conn == nil {
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, op, "store is not open")
	}
	if db.closed.Load() {
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, op, "store is closed")
	}
	def, ok := db.defs[name]
	if !ok {
		return nil, apperr.New(apperr.ErrObjectStoreNotFound, op, fmt.Sprintf("collection %q", name)).In(name, "")
	}
	return def, nil
}

func userVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}
