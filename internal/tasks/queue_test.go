package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePopsHighestPriorityFirst(t *testing.T) {
	q := NewQueue()
	q.Push(Task{ID: "low", Priority: Low})
	q.Push(Task{ID: "critical", Priority: Critical})
	q.Push(Task{ID: "normal", Priority: Normal})

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	require.True(t, ok)
	require.Equal(t, "critical", first.ID)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	require.Equal(t, "normal", second.ID)
}

func TestQueuePreservesFIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	q.Push(Task{ID: "first", Priority: Normal})
	q.Push(Task{ID: "second", Priority: Normal})

	ctx := context.Background()
	a, _ := q.Pop(ctx)
	b, _ := q.Pop(ctx)
	require.Equal(t, "first", a.ID)
	require.Equal(t, "second", b.ID)
}

func TestQueueHoldsDelayedTaskUntilDue(t *testing.T) {
	q := NewQueue()
	q.Push(Task{ID: "delayed", Priority: Critical, NotBefore: time.Now().Add(80 * time.Millisecond)})
	q.Push(Task{ID: "immediate", Priority: Low})

	ctx := context.Background()
	first, _ := q.Pop(ctx)
	require.Equal(t, "immediate", first.ID)

	second, _ := q.Pop(ctx)
	require.Equal(t, "delayed", second.ID)
}

func TestQueuePopUnblocksOnContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	require.False(t, ok)
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	require.False(t, <-done)
}
