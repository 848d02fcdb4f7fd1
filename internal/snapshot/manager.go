// Package snapshot serves a near-real-time aggregate summary without
// recomputing on every read.
//
// Policy is stale-while-revalidate: a fresh snapshot returns immediately;
// a stale one still returns immediately while exactly one background
// refresh runs; only a missing snapshot (cold start) computes
// synchronously. The snapshot is persisted to a well-known file so a
// short-lived CLI invocation can observe a refresh a previous invocation
// started — the file, not shared memory, is the cross-process channel.
package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ohler55/ojg/oj"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/frpfleet/api"
)

// DefaultTTL is the freshness window; operator-configurable via the CLI.
const DefaultTTL = 60 * time.Second

// Compute produces a complete payload from current index and service
// state. It may be slow — the manager guarantees readers only ever wait
// for it on cold start.
type Compute func(ctx context.Context) (api.SnapshotPayload, error)

// Manager owns one snapshot lineage: {payload, captured-at, ttl,
// refreshing}. Construct and inject per process; there is no ambient
// global state.
type Manager struct {
	path    string
	ttl     time.Duration
	compute Compute

	mu     sync.Mutex
	cur    *api.Snapshot
	loaded bool // persisted file consulted at least once

	refreshing atomic.Bool
	flight     singleflight.Group
	background sync.WaitGroup
}

func NewManager(path string, ttl time.Duration, compute Compute) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{path: path, ttl: ttl, compute: compute}
}

// Get returns the current snapshot. Reads never block on recomputation
// except on cold start, where the first computation runs synchronously
// exactly once (concurrent cold readers share it via singleflight).
func (m *Manager) Get(ctx context.Context) (api.Snapshot, error) {
	cur := m.current()

	if cur == nil {
		v, err, _ := m.flight.Do("refresh", func() (any, error) {
			// Re-check: a concurrent caller may have just populated it.
			if snap := m.current(); snap != nil {
				return snap, nil
			}
			return m.refresh(ctx)
		})
		if err != nil {
			return api.Snapshot{}, fmt.Errorf("cold snapshot build: %w", err)
		}
		return *(v.(*api.Snapshot)), nil
	}

	if time.Since(cur.CapturedAt) < m.ttl {
		return *cur, nil
	}

	// Stale: serve it anyway, and kick at most one background refresh.
	if m.refreshing.CompareAndSwap(false, true) {
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			defer m.refreshing.Store(false)
			if _, err := m.refresh(context.Background()); err != nil {
				// Prior snapshot stays valid; only success advances it.
				log.Printf("snapshot: background refresh failed, serving stale: %v", err)
			}
		}()
	}
	return *cur, nil
}

// current returns the in-memory snapshot, loading the persisted file on
// first touch so a new process inherits the last successful refresh.
func (m *Manager) current() *api.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil && !m.loaded {
		m.loaded = true
		m.cur = m.loadPersisted()
	}
	return m.cur
}

func (m *Manager) refresh(ctx context.Context) (*api.Snapshot, error) {
	payload, err := m.compute(ctx)
	if err != nil {
		return nil, err
	}
	snap := &api.Snapshot{Payload: payload, CapturedAt: time.Now()}

	// Persist failure downgrades to a warning: the process still has the
	// fresh snapshot, only cross-process sharing is lost.
	if err := m.persist(snap); err != nil {
		log.Printf("snapshot: persist failed: %v", err)
	}

	m.mu.Lock()
	m.cur = snap
	m.mu.Unlock()
	return snap, nil
}

// persisted is the on-disk form. Captured-at travels as Unix nanos so
// the round-trip does not depend on any time encoding convention.
type persisted struct {
	Payload    api.SnapshotPayload `json:"payload"`
	CapturedAt int64               `json:"captured_at"`
}

// persist writes the snapshot atomically: full temp file, then rename.
// The persisted payload is therefore always a complete computation,
// never a partial write.
func (m *Manager) persist(snap *api.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("mkdir snapshot dir: %w", err)
	}
	data, err := oj.Marshal(persisted{Payload: snap.Payload, CapturedAt: snap.CapturedAt.UnixNano()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (m *Manager) loadPersisted() *api.Snapshot {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil // no snapshot yet — cold start
	}
	var p persisted
	if err := oj.Unmarshal(data, &p); err != nil {
		// Disposable state: a corrupt file is the same as none.
		log.Printf("snapshot: discarding corrupt %s: %v", m.path, err)
		return nil
	}
	return &api.Snapshot{Payload: p.Payload, CapturedAt: time.Unix(0, p.CapturedAt)}
}

// WaitRefresh blocks until any in-flight background refresh completes or
// the timeout elapses. Short-lived invocations call it after serving the
// stale read, so the refresh they kicked off persists for the next one.
func (m *Manager) WaitRefresh(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Invalidate drops both the in-memory and persisted snapshot. Always
// safe — the next read rebuilds synchronously.
func (m *Manager) Invalidate() error {
	m.mu.Lock()
	m.cur = nil
	m.loaded = true // don't resurrect the file we are about to delete
	m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
