// Package lock scopes mutual exclusion to a single key: a queue, a workflow
// or a gate. A Keyed lock holds an in-process mutex for the key and an
// flock(2) on a per-key file so separate processes sharing a store
// directory serialize the same read-modify-write sections.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// MutexMap hands out one mutex per key.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// NewMutexMap returns an empty MutexMap.
func NewMutexMap() *MutexMap {
	return &MutexMap{mutexes: make(map[string]*sync.Mutex)}
}

// Lock blocks until the mutex for key is held.
func (m *MutexMap) Lock(key string) { m.get(key).Lock() }

// Unlock releases the mutex for key.
func (m *MutexMap) Unlock(key string) { m.get(key).Unlock() }

func (m *MutexMap) get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.mutexes[key]
	if !ok {
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	return mu
}

// FileLock is an exclusive advisory lock on a file. The file is never
// removed so that waiters in other processes always lock the same inode.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unlocked FileLock for path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

// Lock blocks until the lock is held.
func (fl *FileLock) Lock() error {
	f, err := fl.open()
	if err != nil {
		return err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("flock %s: %w", fl.path, err)
	}
	fl.file = f
	return nil
}

// TryLock acquires the lock without blocking. It returns false when another
// holder has it.
func (fl *FileLock) TryLock() (bool, error) {
	f, err := fl.open()
	if err != nil {
		return false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", fl.path, err)
	}
	fl.file = f
	return true, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock %s: %w", fl.path, err)
	}
	return f.Close()
}

// Keyed combines a MutexMap with per-key lock files under dir. An empty dir
// gives in-process locking only, which is what in-memory stores use.
type Keyed struct {
	dir     string
	mutexes *MutexMap
}

// NewKeyed returns a Keyed lock rooted at dir.
func NewKeyed(dir string) *Keyed {
	return &Keyed{dir: dir, mutexes: NewMutexMap()}
}

// Acquire locks scope/key in-process and, when a directory is configured,
// across processes. The returned func releases both.
func (k *Keyed) Acquire(scope, key string) (func(), error) {
	name := scope + "-" + sanitize(key)
	k.mutexes.Lock(name)
	if k.dir == "" {
		return func() { k.mutexes.Unlock(name) }, nil
	}
	fl := NewFileLock(filepath.Join(k.dir, name+".lock"))
	if err := fl.Lock(); err != nil {
		k.mutexes.Unlock(name)
		return nil, err
	}
	return func() {
		_ = fl.Unlock()
		k.mutexes.Unlock(name)
	}, nil
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
}
