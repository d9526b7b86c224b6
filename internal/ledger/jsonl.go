package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/logging"
)

// FileLedger appends entries as JSON lines to a single file. Appends are
// serialized in-process by a mutex and across processes by an flock on
// "<path>.lock"; each line is written with one O_APPEND write and fsynced
// before Record returns. Reads scan the file without locking.
type FileLedger struct {
	path   string
	flock  *lock.FileLock
	seal   sealer
	logger *logging.Logger

	mu     sync.Mutex
	file   *os.File
	offset int64 // bytes of the file already folded into last
	last   tail
}

// OpenFile opens or creates the ledger file at path.
func OpenFile(path string, opts Options) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewStorageError("create ledger dir", "ledger", "", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewStorageError("open ledger", "ledger", "", err)
	}
	return &FileLedger{
		path:   path,
		flock:  lock.NewFileLock(path + ".lock"),
		seal:   newSealer(opts),
		logger: logging.OrNop(opts.Logger).With("ledger", path),
		file:   f,
	}, nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) Record(ctx context.Context, req RecordRequest) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil, errors.NewStorageError("append entry", "ledger", "", os.ErrClosed)
	}

	if err := l.flock.Lock(); err != nil {
		return nil, errors.NewStorageError("lock ledger", "ledger", "", err)
	}
	defer func() {
		if err := l.flock.Unlock(); err != nil {
			l.logger.Warn("failed to release ledger lock", "error", err)
		}
	}()

	// Other processes may have appended since our last write.
	if err := l.catchUp(); err != nil {
		return nil, errors.NewStorageError("read ledger tail", "ledger", "", err)
	}

	e, err := l.seal.seal(req, l.last)
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return nil, errors.NewStorageError("encode entry", "ledger", e.ID, err)
	}
	line = append(line, '\n')

	n, err := l.file.Write(line)
	if err != nil {
		return nil, errors.NewStorageError("append entry", "ledger", e.ID, err)
	}
	if err := l.file.Sync(); err != nil {
		return nil, errors.NewStorageError("sync ledger", "ledger", e.ID, err)
	}
	l.offset += int64(n)
	l.last = tail{seq: e.Seq, hash: e.Hash}

	l.logger.Debug("ledger entry recorded",
		"entry_id", e.ID, "action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID)
	return e, nil
}

// catchUp folds any bytes past l.offset into l.last. Callers hold the flock.
func (l *FileLedger) catchUp() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return err
	}
	if info.Size() == l.offset {
		return nil
	}
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(l.offset, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			l.offset += int64(len(line))
			var e Entry
			if jerr := json.Unmarshal(bytes.TrimSpace(line), &e); jerr == nil {
				l.last = tail{seq: e.Seq, hash: e.Hash}
			} else if len(bytes.TrimSpace(line)) > 0 {
				l.logger.Warn("skipping malformed ledger line", "offset", l.offset, "error", jerr)
			}
		}
		if err == io.EOF {
			// A torn final write has no newline; the next append starts
			// on a fresh line so it stays parseable.
			if len(line) > 0 {
				if _, werr := l.file.Write([]byte{'\n'}); werr != nil {
					return werr
				}
				l.offset += int64(len(line)) + 1
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// scan calls fn for every well-formed entry in file order. Malformed lines
// are passed to bad when it is non-nil.
func (l *FileLedger) scan(ctx context.Context, fn func(*Entry) bool, bad func(lineNo int, err error)) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewStorageError("open ledger", "ledger", "", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, rerr := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var e Entry
			if err := json.Unmarshal(trimmed, &e); err != nil {
				if bad != nil {
					bad(lineNo, err)
				}
			} else if !fn(&e) {
				return nil
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return errors.NewStorageError("read ledger", "ledger", "", rerr)
		}
	}
}

func (l *FileLedger) collect(ctx context.Context, match func(*Entry) bool) ([]Entry, error) {
	var out []Entry
	err := l.scan(ctx, func(e *Entry) bool {
		if match(e) {
			out = append(out, *e)
		}
		return true
	}, nil)
	return out, err
}

func (l *FileLedger) Get(ctx context.Context, id string) (*Entry, error) {
	var found *Entry
	err := l.scan(ctx, func(e *Entry) bool {
		if e.ID == id {
			found = e
			return false
		}
		return true
	}, nil)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, entryNotFound(id)
	}
	return found, nil
}

func (l *FileLedger) EntriesForEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	return l.collect(ctx, func(e *Entry) bool {
		return e.EntityType == entityType && e.EntityID == entityID
	})
}

func (l *FileLedger) EntriesForAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	out, err := l.collect(ctx, func(e *Entry) bool { return e.AgentID == agentID })
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *FileLedger) Children(ctx context.Context, parentID string) ([]Entry, error) {
	return l.collect(ctx, func(e *Entry) bool { return e.ParentEntryID == parentID })
}

func (l *FileLedger) Verify(ctx context.Context) (*VerifyReport, error) {
	v := newVerifier()
	err := l.scan(ctx, func(e *Entry) bool {
		v.add(e)
		return true
	}, func(lineNo int, err error) {
		v.corrupt(v.prev.seq+1, fmt.Sprintf("line %d is not a valid entry: %v", lineNo, err))
	})
	if err != nil {
		return nil, err
	}
	return &v.report, nil
}

func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
