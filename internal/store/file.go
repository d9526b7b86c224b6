package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hookline/internal/errors"
)

const recordExt = ".yaml"

// FileStore keeps each record as {root}/{kind}/{id}.yaml.
type FileStore struct {
	root string
}

// NewFileStore creates the kind directories under root.
func NewFileStore(root string) (*FileStore, error) {
	for _, k := range Kinds() {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0o755); err != nil {
			return nil, errors.NewStorageError("create store dir", string(k), "", err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root returns the store directory.
func (f *FileStore) Root() string { return f.root }

// Dir returns the directory holding records of kind.
func (f *FileStore) Dir(kind Kind) string {
	return filepath.Join(f.root, string(kind))
}

func (f *FileStore) path(kind Kind, id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return "", errors.NewValidationError("invalid record id").WithField("id").WithValue(id)
	}
	return filepath.Join(f.Dir(kind), id+recordExt), nil
}

func (f *FileStore) Load(_ context.Context, kind Kind, id string) ([]byte, error) {
	p, err := f.path(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(kind, id)
		}
		return nil, errors.NewStorageError("read record", string(kind), id, err)
	}
	return data, nil
}

// Save writes data to a temp file in the same directory, fsyncs it,
// checks it parses, and renames it over the record.
func (f *FileStore) Save(_ context.Context, kind Kind, id string, data []byte) error {
	p, err := f.path(kind, id)
	if err != nil {
		return err
	}
	if err := atomicWrite(p, data); err != nil {
		return errors.NewStorageError("write record", string(kind), id, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, kind Kind, id string) error {
	p, err := f.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return notFound(kind, id)
		}
		return errors.NewStorageError("delete record", string(kind), id, err)
	}
	return nil
}

func (f *FileStore) List(_ context.Context, kind Kind) ([]string, error) {
	entries, err := os.ReadDir(f.Dir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStorageError("list records", string(kind), "", err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := recordID(e.Name()); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *FileStore) Close() error { return nil }

// recordID maps a file name to a record id, skipping temp files.
func recordID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	return strings.TrimSuffix(name, recordExt), true
}

func atomicWrite(path string, content []byte) error {
	var probe any
	if err := yaml.Unmarshal(content, &probe); err != nil {
		return fmt.Errorf("refusing to write invalid yaml: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hookline-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
