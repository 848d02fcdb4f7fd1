package index

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// ErrRebuildLocked is returned when another process holds the rebuild
// lock. Two full rebuilds racing the same store would interleave row
// writes; the loser fails fast instead.
var ErrRebuildLocked = errors.New("another rebuild is in progress")

const lastSyncKey = "last_sync"

// rebuildLock takes a non-blocking advisory flock on a sidecar lock file.
// Advisory is enough: both writers are this tool, and readers never take
// the lock (per-row upserts stay atomic regardless).
type rebuildLock struct {
	f *os.File
}

func acquireRebuildLock(dbPath string) (*rebuildLock, error) {
	f, err := os.OpenFile(dbPath+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close() // ignore error
		if err == unix.EWOULDBLOCK {
			return nil, ErrRebuildLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &rebuildLock{f: f}, nil
}

func (l *rebuildLock) release() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN) // ignore error
	_ = l.f.Close()                             // ignore error
}

// Rebuild clears and repopulates the index from the filesystem. Files the
// parser cannot make sense of are logged and skipped — one malformed
// config never aborts the rebuild. Entries whose file no longer exists on
// disk are removed (tags cascade with them).
func (s *Store) Rebuild() error {
	lock, err := acquireRebuildLock(s.dbPath)
	if err != nil {
		return err
	}
	defer lock.release()

	start := time.Now()
	files, err := scanConfigs(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.dir, err)
	}

	stale, err := s.paths()
	if err != nil {
		return fmt.Errorf("list indexed paths: %w", err)
	}

	indexed, skipped := 0, 0
	for _, f := range files {
		delete(stale, f.path)
		if err := s.IndexFile(f.path); err != nil {
			log.Printf("index: skip %s: %v", f.path, err)
			skipped++
			continue
		}
		indexed++
	}

	// Whatever remains in stale was indexed before but is gone from disk.
	for path := range stale {
		if err := s.deletePath(path); err != nil {
			return fmt.Errorf("remove stale entry %s: %w", path, err)
		}
	}

	if err := s.metaSet(lastSyncKey, strconv.FormatInt(start.UnixNano(), 10)); err != nil {
		return fmt.Errorf("record sync marker: %w", err)
	}
	if skipped > 0 {
		log.Printf("index: rebuilt %d entries, skipped %d malformed, removed %d stale",
			indexed, skipped, len(stale))
	}
	return nil
}

// Sync reindexes only files whose mtime is newer than the last sync
// marker. A rebuild or sync that crashed halfway is harmless: the marker
// only advances on completion, so the next call covers the gap.
func (s *Store) Sync() (int, error) {
	lock, err := acquireRebuildLock(s.dbPath)
	if err != nil {
		return 0, err
	}
	defer lock.release()

	var since time.Time
	if v, ok, err := s.metaGet(lastSyncKey); err != nil {
		return 0, fmt.Errorf("read sync marker: %w", err)
	} else if ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sync marker %q: %w", v, err)
		}
		since = time.Unix(0, nanos)
	}

	// The marker is set to the scan start, not the end: a file modified
	// while we scan gets picked up again next time rather than missed.
	start := time.Now()
	files, err := scanConfigs(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", s.dir, err)
	}

	updated := 0
	for _, f := range files {
		if !f.modTime.After(since) {
			continue
		}
		if err := s.IndexFile(f.path); err != nil {
			log.Printf("index: skip %s: %v", f.path, err)
			continue
		}
		updated++
	}

	if err := s.metaSet(lastSyncKey, strconv.FormatInt(start.UnixNano(), 10)); err != nil {
		return updated, fmt.Errorf("record sync marker: %w", err)
	}
	return updated, nil
}
