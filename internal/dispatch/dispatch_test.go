package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeItems(n int, run func(i int, ctx context.Context) error) []Item {
	items := make([]Item, n)
	for i := range items {
		i := i
		items[i] = Item{
			ID:  fmt.Sprintf("item-%02d", i),
			Run: func(ctx context.Context) error { return run(i, ctx) },
		}
	}
	return items
}

func TestRun_CountsSuccessesAndFailures(t *testing.T) {
	// 50 items, 7 forced failures: the batch never aborts early and the
	// report accounts for every item.
	failing := map[int]bool{3: true, 11: true, 19: true, 23: true, 31: true, 42: true, 49: true}
	items := makeItems(50, func(i int, ctx context.Context) error {
		if failing[i] {
			return errors.New("forced failure")
		}
		return nil
	})

	report := Run(context.Background(), items, 10, nil)

	assert.Equal(t, 50, report.Total)
	assert.Equal(t, 43, report.Succeeded)
	assert.Equal(t, 7, report.Failed)
	assert.Zero(t, report.Skipped)
	assert.False(t, report.Canceled)
	require.Len(t, report.Failures, 7)
	for _, f := range report.Failures {
		assert.True(t, failing[mustItemIndex(t, f.ID)], "unexpected failed item %s", f.ID)
		assert.Equal(t, "forced failure", f.Reason)
	}
	assert.Error(t, report.Err())
	assert.NotEmpty(t, report.BatchID)
}

func mustItemIndex(t *testing.T, id string) int {
	t.Helper()
	var i int
	_, err := fmt.Sscanf(id, "item-%d", &i)
	require.NoError(t, err)
	return i
}

func TestRun_NeverExceedsBound(t *testing.T) {
	const limit = 4
	var inflight, peak int64

	items := makeItems(40, func(i int, ctx context.Context) error {
		cur := atomic.AddInt64(&inflight, 1)
		defer atomic.AddInt64(&inflight, -1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	report := Run(context.Background(), items, limit, nil)

	assert.Equal(t, 40, report.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit),
		"observed %d items in flight with bound %d", peak, limit)
}

func TestRun_WallTimeIsBoundedByBatches(t *testing.T) {
	// 50 items of ~20ms at C=10 is 5 sequential waves, nowhere near the
	// 1s a serial run would take.
	items := makeItems(50, func(i int, ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	start := time.Now()
	report := Run(context.Background(), items, 10, nil)
	elapsed := time.Since(start)

	assert.Equal(t, 50, report.Succeeded)
	assert.Less(t, elapsed, 600*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "five waves of 20ms cannot finish faster")
}

func TestRun_EmptyBatch(t *testing.T) {
	report := Run(context.Background(), nil, 10, nil)
	assert.Equal(t, 0, report.Total)
	assert.NoError(t, report.Err())
}

func TestRun_SingleItem(t *testing.T) {
	report := Run(context.Background(), makeItems(1, func(int, context.Context) error { return nil }), 10, nil)
	assert.Equal(t, 1, report.Succeeded)
	assert.NoError(t, report.Err())
}

func TestRun_LimitLargerThanItems(t *testing.T) {
	report := Run(context.Background(), makeItems(3, func(int, context.Context) error { return nil }), 100, nil)
	assert.Equal(t, 3, report.Succeeded)
}

func TestRun_ProgressIsIncremental(t *testing.T) {
	var calls atomic.Int64
	var sawPartial atomic.Bool

	items := makeItems(20, func(i int, ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	report := Run(context.Background(), items, 5, func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 20, total)
		if done < total {
			sawPartial.Store(true)
		}
	})

	assert.Equal(t, 20, report.Succeeded)
	assert.Equal(t, int64(20), calls.Load(), "progress fires once per completed item")
	assert.True(t, sawPartial.Load(), "progress must be observable before batch end")
}

func TestRun_CancellationStopsLaunchingAndReportsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := makeItems(50, func(i int, ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	report := Run(ctx, items, 5, nil)

	assert.True(t, report.Canceled)
	assert.Greater(t, report.Skipped, 0, "cancellation must stop launching new items")
	assert.Equal(t, report.Total, report.Succeeded+report.Failed+report.Skipped,
		"partial report must account for every item")
	assert.Error(t, report.Err())
}

func TestRun_PanicDoesNotKillBatch(t *testing.T) {
	items := makeItems(10, func(i int, ctx context.Context) error {
		if i == 5 {
			panic("boom")
		}
		return nil
	})

	report := Run(context.Background(), items, 3, nil)

	assert.Equal(t, 9, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	assert.Equal(t, "item-05", report.Failures[0].ID)
	assert.Contains(t, report.Failures[0].Reason, "panic: boom")
}

func TestWithTimeout(t *testing.T) {
	run := WithTimeout(func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, 20*time.Millisecond)

	err := run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
