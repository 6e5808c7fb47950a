package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRuntimeRetriesFailedTaskUpToMaxRetries(t *testing.T) {
	q := NewQueue()
	r := NewRuntime(q)

	var attempts int32
	r.RegisterHandler("fails", func(ctx context.Context, task Task) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})

	r.Enqueue(Task{Kind: "fails", Priority: Normal, MaxRetries: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Run(ctx, 1)

	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestRuntimeSkipsTaskWithRetainedSuccessfulResult(t *testing.T) {
	q := NewQueue()
	r := NewRuntime(q)
	r.results["dup-key"] = Result{Success: true, FinishedAt: time.Now()}

	var called int32
	r.RegisterHandler("once", func(ctx context.Context, task Task) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	r.Enqueue(Task{Kind: "once", Priority: Normal, IdempotencyKey: "dup-key"})
	require.Equal(t, 0, q.Len())
	require.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func TestPruneResultsDropsExpiredEntries(t *testing.T) {
	q := NewQueue()
	r := NewRuntime(q)
	r.results["old"] = Result{Success: true, FinishedAt: time.Now().Add(-25 * time.Hour)}
	r.results["fresh"] = Result{Success: true, FinishedAt: time.Now()}

	r.PruneResults()

	_, oldOK := r.ResultFor("old")
	_, freshOK := r.ResultFor("fresh")
	require.False(t, oldOK)
	require.True(t, freshOK)
}
