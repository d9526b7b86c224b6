package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/hookline/internal/logging"
)

// Watcher invalidates Cache entries when another process rewrites or
// removes a record file under a FileStore.
type Watcher struct {
	watcher  *fsnotify.Watcher
	cache    *Cache
	kinds    map[string]Kind
	logger   *logging.Logger
	onChange func(Kind, string)

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches every kind directory of fs and evicts from cache.
// onChange, when non-nil, is called after each eviction.
func NewWatcher(fs *FileStore, cache *Cache, logger *logging.Logger, onChange func(Kind, string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		cache:    cache,
		kinds:    make(map[string]Kind),
		logger:   logging.OrNop(logger),
		onChange: onChange,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, k := range Kinds() {
		dir := filepath.Clean(fs.Dir(k))
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.kinds[dir] = k
	}
	return w, nil
}

// Start begins processing events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends the watch loop and releases the OS watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Dropped events mean anything may be stale.
			w.logger.Warn("store watcher error, invalidating cache", "error", err)
			w.cache.InvalidateAll()
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	kind, ok := w.kinds[filepath.Dir(event.Name)]
	if !ok {
		return
	}
	id, ok := recordID(filepath.Base(event.Name))
	if !ok {
		return
	}
	w.cache.Invalidate(kind, id)
	w.logger.Debug("record changed on disk", "kind", string(kind), "id", id, "op", event.Op.String())
	if w.onChange != nil {
		w.onChange(kind, id)
	}
}
