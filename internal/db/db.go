package db

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/dirsync/internal/utils"
)

const memoryPath = ":memory:"

// DefaultBusyTimeout is how long a connection waits on another process's
// write lock before failing with SQLITE_BUSY.
const DefaultBusyTimeout = 5 * time.Second

// pragmas applied once the pool is up. busy_timeout is per connection and
// travels in the DSN instead.
const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=2000;
`

type config struct {
	path            string
	pragmas         string
	busyTimeout     time.Duration
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// SqliteOption configures NewSqliteDB
type SqliteOption func(*config)

// WithPath sets the database file. ":memory:" (the default) keeps it in memory.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		c.path = path
	}
}

// WithPragmas replaces the default pragma block
func WithPragmas(pragmas string) SqliteOption {
	return func(c *config) {
		c.pragmas = pragmas
	}
}

// WithBusyTimeout sets how long every connection in the pool waits for a
// lock held by another writer. Zero fails immediately.
func WithBusyTimeout(d time.Duration) SqliteOption {
	return func(c *config) {
		c.busyTimeout = max(d, 0)
	}
}

func WithMaxOpenConns(n int) SqliteOption {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

func WithMaxIdleConns(n int) SqliteOption {
	return func(c *config) {
		c.maxIdleConns = n
	}
}

func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(c *config) {
		c.connMaxLifetime = d
	}
}

// fileDSN builds the URI for a database file. Connection-level settings go
// in the query so that connections opened later by the pool get them too.
func fileDSN(cfg *config) string {
	q := url.Values{}
	q.Set("mode", "rwc")
	q.Set("_txlock", "immediate")
	key, val := busyTimeoutParam(cfg.busyTimeout)
	q.Set(key, val)
	return fmt.Sprintf("file:%s?%s", cfg.path, q.Encode())
}

// NewSqliteDB opens a sqlite database with the given options. File databases
// get their parent directory created.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		path:         memoryPath,
		pragmas:      defaultPragma,
		busyTimeout:  DefaultBusyTimeout,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path != memoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fileDSN(cfg)
	} else {
		// every connection to :memory: is its own database
		cfg.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", driverID, "path", cfg.path, "busyTimeout", cfg.busyTimeout)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	pragmas := cfg.pragmas
	if cfg.path == memoryPath {
		// the single connection never went through a DSN
		pragmas += fmt.Sprintf("PRAGMA busy_timeout=%d;\n", cfg.busyTimeout.Milliseconds())
	}
	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}
