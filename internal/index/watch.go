package index

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of events editors emit per save
// (truncate + write + chmod) into a single reindex.
const debounceWindow = 200 * time.Millisecond

// Watcher reindexes config files as they change on disk, complementing
// the mtime-based Sync for long-running invocations. Removals are left to
// the next full Rebuild, matching the index lifecycle.
type Watcher struct {
	store *Store

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewWatcher(store *Store) *Watcher {
	return &Watcher{store: store, pending: make(map[string]*time.Timer)}
}

// Watch blocks until ctx is done, reindexing changed files as events
// arrive. Per-file failures are logged and the watch continues.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = fw.Close() }() // safe to ignore

	if err := fw.Add(w.store.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", w.store.Dir(), err)
	}

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if !isConfigPath(event.Name) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		}
	}
}

// schedule (re)arms the per-path debounce timer.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(debounceWindow)
		return
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if err := w.store.IndexFile(path); err != nil {
			log.Printf("watch: reindex %s: %v", path, err)
		}
	})
}

// drain stops outstanding timers so no reindex fires after Watch returns.
func (w *Watcher) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
