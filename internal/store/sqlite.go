package store

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/sqlitedb"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	body       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
) WITHOUT ROWID;
`

// SQLiteStore keeps records in a single table keyed by (kind, id).
type SQLiteStore struct {
	pool *sqlitedb.Pool
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, poolSize int, logger *logging.Logger) (*SQLiteStore, error) {
	pool, err := sqlitedb.Open(sqlitedb.Config{
		Path:     path,
		PoolSize: poolSize,
		Schema:   recordsSchema,
		Logger:   logger,
	})
	if err != nil {
		return nil, errors.NewStorageError("open sqlite store", "", "", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, kind Kind, id string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.NewStorageError("take connection", string(kind), id, err)
	}
	defer s.pool.Put(conn)

	var body []byte
	found := false
	err = sqlitex.Execute(conn, `SELECT body FROM records WHERE kind = ? AND id = ?`, &sqlitex.ExecOptions{
		Args: []any{string(kind), id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			body = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, body)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("read record", string(kind), id, err)
	}
	if !found {
		return nil, notFound(kind, id)
	}
	return body, nil
}

func (s *SQLiteStore) Save(ctx context.Context, kind Kind, id string, data []byte) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.NewStorageError("take connection", string(kind), id, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return errors.NewStorageError("begin transaction", string(kind), id, err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO records (kind, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{string(kind), id, data, time.Now().UnixNano()}})
	if err != nil {
		return errors.NewStorageError("write record", string(kind), id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, kind Kind, id string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.NewStorageError("take connection", string(kind), id, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM records WHERE kind = ? AND id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(kind), id}})
	if err != nil {
		return errors.NewStorageError("delete record", string(kind), id, err)
	}
	if conn.Changes() == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, kind Kind) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.NewStorageError("take connection", string(kind), "", err)
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, `SELECT id FROM records WHERE kind = ? ORDER BY id`, &sqlitex.ExecOptions{
		Args: []any{string(kind)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("list records", string(kind), "", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}
