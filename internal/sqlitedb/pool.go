// Package sqlitedb opens pooled SQLite connections with the pragmas the
// record store and ledger rely on: WAL journaling, a busy timeout so
// concurrent writers from other processes wait instead of failing, and a
// per-connection schema hook.
package sqlitedb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Iron-Ham/hookline/internal/logging"
)

// Config configures a Pool.
type Config struct {
	// Path is the database file. Its parent directory is created.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	// Schema is executed on every new connection. It must be idempotent.
	Schema string
	Logger *logging.Logger
}

// Pool is a fixed-size set of connections to one database file.
type Pool struct {
	inner  *sqlitex.Pool
	logger *logging.Logger
	path   string
}

// Open creates the pool. Connections are opened lazily by the
// underlying pool and prepared on first use.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitedb: Path is required")
	}
	logger := logging.OrNop(cfg.Logger)
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitedb: create dir: %w", err)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, cfg.Schema)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: opening %s: %w", cfg.Path, err)
	}
	logger.Debug("sqlite pool opened", "path", cfg.Path, "pool_size", size)
	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection. Callers must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool.
func (p *Pool) Put(conn *sqlite.Conn) { p.inner.Put(conn) }

// Path returns the database file path.
func (p *Pool) Path() string { return p.path }

// Close blocks until borrowed connections are returned, then closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitedb: closing %s: %w", p.path, err)
	}
	return nil
}

func prepare(conn *sqlite.Conn, schema string) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitedb: %s: %w", pragma, err)
		}
	}
	if schema != "" {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return fmt.Errorf("sqlitedb: schema: %w", err)
		}
	}
	return nil
}
