package ledger

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/sqlitedb"
)

const entriesSchema = `
CREATE TABLE IF NOT EXISTS entries (
	seq             INTEGER PRIMARY KEY,
	id              TEXT    NOT NULL UNIQUE,
	agent_id        TEXT    NOT NULL,
	action          TEXT    NOT NULL,
	entity_type     TEXT    NOT NULL,
	entity_id       TEXT    NOT NULL,
	data            BLOB,
	message         TEXT    NOT NULL DEFAULT '',
	parent_entry_id TEXT    NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	prev_hash       TEXT    NOT NULL DEFAULT '',
	hash            TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS entries_entity ON entries (entity_type, entity_id, seq);
CREATE INDEX IF NOT EXISTS entries_agent  ON entries (agent_id, seq);
CREATE INDEX IF NOT EXISTS entries_parent ON entries (parent_entry_id, seq);
CREATE TRIGGER IF NOT EXISTS entries_no_update BEFORE UPDATE ON entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are immutable');
END;
CREATE TRIGGER IF NOT EXISTS entries_no_delete BEFORE DELETE ON entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are immutable');
END;
`

const entryColumns = `seq, id, agent_id, action, entity_type, entity_id, data, message, parent_entry_id, created_at, prev_hash, hash`

// SQLiteLedger stores entries in an append-only table. Triggers reject
// UPDATE and DELETE so the table cannot be edited through SQL either.
type SQLiteLedger struct {
	pool   *sqlitedb.Pool
	seal   sealer
	logger *logging.Logger
}

// OpenSQLite opens or creates the ledger database at path.
func OpenSQLite(path string, poolSize int, opts Options) (*SQLiteLedger, error) {
	pool, err := sqlitedb.Open(sqlitedb.Config{
		Path:     path,
		PoolSize: poolSize,
		Schema:   entriesSchema,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, errors.NewStorageError("open sqlite ledger", "ledger", "", err)
	}
	return &SQLiteLedger{
		pool:   pool,
		seal:   newSealer(opts),
		logger: logging.OrNop(opts.Logger).With("ledger", path),
	}, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, req RecordRequest) (e *Entry, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, errors.NewStorageError("take connection", "ledger", "", err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, errors.NewStorageError("begin transaction", "ledger", "", err)
	}
	defer endTransaction(&err)

	var last tail
	err = sqlitex.Execute(conn, `SELECT seq, hash FROM entries ORDER BY seq DESC LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			last = tail{seq: uint64(stmt.ColumnInt64(0)), hash: stmt.ColumnText(1)}
			return nil
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("read ledger tail", "ledger", "", err)
	}

	e, err = l.seal.seal(req, last)
	if err != nil {
		return nil, err
	}
	err = sqlitex.Execute(conn, `INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			int64(e.Seq), e.ID, e.AgentID, e.Action, e.EntityType, e.EntityID,
			[]byte(e.Data), e.Message, e.ParentEntryID, e.CreatedAt.UnixNano(), e.PrevHash, e.Hash,
		}})
	if err != nil {
		return nil, errors.NewStorageError("append entry", "ledger", e.ID, err)
	}
	l.logger.Debug("ledger entry recorded",
		"entry_id", e.ID, "action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID)
	return e, nil
}

func scanEntry(stmt *sqlite.Stmt) Entry {
	e := Entry{
		Seq:           uint64(stmt.ColumnInt64(0)),
		ID:            stmt.ColumnText(1),
		AgentID:       stmt.ColumnText(2),
		Action:        stmt.ColumnText(3),
		EntityType:    stmt.ColumnText(4),
		EntityID:      stmt.ColumnText(5),
		Message:       stmt.ColumnText(7),
		ParentEntryID: stmt.ColumnText(8),
		CreatedAt:     time.Unix(0, stmt.ColumnInt64(9)).UTC(),
		PrevHash:      stmt.ColumnText(10),
		Hash:          stmt.ColumnText(11),
	}
	if n := stmt.ColumnLen(6); n > 0 {
		e.Data = make([]byte, n)
		stmt.ColumnBytes(6, e.Data)
	}
	return e
}

func (l *SQLiteLedger) query(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, errors.NewStorageError("take connection", "ledger", "", err)
	}
	defer l.pool.Put(conn)

	var out []Entry
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanEntry(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("query ledger", "ledger", "", err)
	}
	return out, nil
}

func (l *SQLiteLedger) Get(ctx context.Context, id string) (*Entry, error) {
	out, err := l.query(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, entryNotFound(id)
	}
	return &out[0], nil
}

func (l *SQLiteLedger) EntriesForEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM entries WHERE entity_type = ? AND entity_id = ? ORDER BY seq`,
		entityType, entityID)
}

func (l *SQLiteLedger) EntriesForAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return l.query(ctx, `SELECT `+entryColumns+` FROM entries WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`,
		agentID, limit)
}

func (l *SQLiteLedger) Children(ctx context.Context, parentID string) ([]Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM entries WHERE parent_entry_id = ? ORDER BY seq`, parentID)
}

func (l *SQLiteLedger) Verify(ctx context.Context) (*VerifyReport, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, errors.NewStorageError("take connection", "ledger", "", err)
	}
	defer l.pool.Put(conn)

	v := newVerifier()
	err = sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM entries ORDER BY seq`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e := scanEntry(stmt)
			v.add(&e)
			return ctx.Err()
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("verify ledger", "ledger", "", err)
	}
	return &v.report, nil
}

func (l *SQLiteLedger) Close() error {
	return l.pool.Close()
}
