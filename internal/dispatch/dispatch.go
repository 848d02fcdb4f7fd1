// Package dispatch is a generic bounded-concurrency executor over
// independent work items: at most C items in flight, per-item isolation,
// incremental progress, and graceful cancellation with a partial report.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Default concurrency bounds. Probes are cheap per unit (one TCP dial
// with a deadline), so a higher bound is safe; lifecycle actions fork an
// external command each and stay lower.
const (
	DefaultLifecycleWorkers = 10
	DefaultProbeWorkers     = 20
)

// Item is one unit of work. Run must honor ctx but is otherwise free to
// fail, time out, or panic without affecting any other item.
type Item struct {
	ID  string
	Run func(ctx context.Context) error
}

// Failure records one failed item with a short diagnostic.
type Failure struct {
	ID     string
	Reason string
}

// Report is the transient result of one dispatcher invocation.
// Succeeded + Failed + Skipped always equals Total; Skipped is non-zero
// only when the batch was canceled before every item launched.
type Report struct {
	BatchID   string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Canceled  bool
	Failures  []Failure
}

// Err maps the report onto the automation contract: non-nil exactly when
// something did not succeed, so callers can branch on partial failure.
func (r *Report) Err() error {
	if r.Canceled {
		return fmt.Errorf("batch %s canceled: %d/%d completed", r.BatchID, r.Succeeded+r.Failed, r.Total)
	}
	if r.Failed > 0 {
		return fmt.Errorf("batch %s: %d of %d items failed", r.BatchID, r.Failed, r.Total)
	}
	return nil
}

// Progress observes incremental completion ("done/total"), called once
// per finished item from that item's goroutine.
type Progress func(done, total int)

// Run executes the items with at most limit in flight. Completion order
// is unconstrained. On ctx cancellation no new items launch; items
// already started run to completion (their own ctx-awareness bounds
// that), and the partial report covers everything that finished.
//
// The bound is a weighted semaphore: Acquire blocks the launcher when
// limit items are in flight and wakes it the moment a slot frees, with
// no busy loop.
func Run(ctx context.Context, items []Item, limit int, progress Progress) *Report {
	report := &Report{BatchID: uuid.NewString(), Total: len(items)}
	if len(items) == 0 {
		return report
	}
	if limit <= 0 {
		limit = DefaultLifecycleWorkers
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0
	launched := 0

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Canceled = true
			break
		}
		launched++
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			defer sem.Release(1)

			err := runIsolated(ctx, item)

			mu.Lock()
			done++
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, Failure{ID: item.ID, Reason: err.Error()})
			} else {
				report.Succeeded++
			}
			completed := done
			mu.Unlock()

			if progress != nil {
				progress(completed, report.Total)
			}
		}(item)
	}

	wg.Wait()
	report.Skipped = report.Total - launched
	return report
}

// runIsolated converts a panicking item into a failed item. One item
// blowing up must never take the batch down with it.
func runIsolated(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return item.Run(ctx)
}

// WithTimeout wraps an item's Run with a per-item deadline, bounding the
// cost of a single stuck target without touching its siblings.
func WithTimeout(run func(ctx context.Context) error, d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return run(ctx)
	}
}
