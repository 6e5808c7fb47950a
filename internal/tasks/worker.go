package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gethlog "github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// ResultRetention is how long a completed task's idempotency result is
// kept (spec.md §4.7).
const ResultRetention = 24 * time.Hour

// DefaultMaxRetries is applied when a task does not declare its own
// MaxRetries; DefaultRetryDelayCap caps every retry delay (spec.md §4.7).
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelayCap = 30 * time.Second
)

// Handler processes one task kind. Returning a non-nil error marks the
// attempt failed and schedules a retry per the task's budget.
type Handler func(ctx context.Context, t Task) error

// Result records a completed task's outcome, kept for ResultRetention so
// at-least-once redelivery can be recognized as already-done.
type Result struct {
	Success   bool
	Err       error
	Attempt   int
	FinishedAt time.Time
}

// Runtime is the Task Runtime: a queue plus a worker pool dispatching by
// kind, generalized from nothing in the teacher (a single-strategy
// goroutine in cmd/main.go) to the fund's declared task set.
type Runtime struct {
	queue    *Queue
	handlers map[string]Handler

	mu      sync.Mutex
	results map[string]Result // keyed by IdempotencyKey
}

// NewRuntime constructs an empty runtime; call RegisterHandler for each
// task kind before Run.
func NewRuntime(queue *Queue) *Runtime {
	return &Runtime{queue: queue, handlers: make(map[string]Handler), results: make(map[string]Result)}
}

// RegisterHandler binds kind to h.
func (r *Runtime) RegisterHandler(kind string, h Handler) {
	r.handlers[kind] = h
}

// Enqueue pushes t, skipping it entirely if its idempotency key already
// has a retained successful result (spec.md §4.7's "retained 24h for
// idempotency checks").
func (r *Runtime) Enqueue(t Task) {
	if t.IdempotencyKey != "" {
		r.mu.Lock()
		res, ok := r.results[t.IdempotencyKey]
		r.mu.Unlock()
		if ok && res.Success {
			return
		}
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	r.queue.Push(t)
}

// Run starts n worker goroutines pulling from the queue until ctx is
// done. Each worker yields at the top of every loop iteration (suspends
// on Pop), matching spec.md §5's "long-running loops yield on every
// iteration". Workers never return an error themselves; Run still
// reports via the group so a future worker-fatal condition has
// somewhere to surface without another signature change.
func (r *Runtime) Run(ctx context.Context, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) workerLoop(ctx context.Context) {
	for {
		t, ok := r.queue.Pop(ctx)
		if !ok {
			return
		}
		r.dispatch(ctx, t)
	}
}

func (r *Runtime) dispatch(ctx context.Context, t Task) {
	h, ok := r.handlers[t.Kind]
	if !ok {
		gethlog.Warn("no handler registered for task kind", "kind", t.Kind)
		return
	}

	t.Attempt++
	err := h(ctx, t)
	r.recordResult(t, err)

	if err == nil {
		return
	}
	if t.Attempt >= t.MaxRetries {
		gethlog.Error("task exhausted retry budget", "kind", t.Kind, "id", t.ID, "err", err)
		return
	}

	delay := retryDelay(t.Attempt)
	t.NotBefore = time.Now().Add(delay)
	r.queue.Push(t)
}

// retryDelay computes an exponential-with-jitter delay capped at 30s,
// reusing the backoff library's own jitter rather than hand-rolling one
// (spec.md §4.7: "retry_delay_base (exponential with jitter, cap 30s)").
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = DefaultRetryDelayCap
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > DefaultRetryDelayCap {
		d = DefaultRetryDelayCap
	}
	return d
}

func (r *Runtime) recordResult(t Task, err error) {
	if t.IdempotencyKey == "" {
		return
	}
	r.mu.Lock()
	r.results[t.IdempotencyKey] = Result{Success: err == nil, Err: err, Attempt: t.Attempt, FinishedAt: time.Now()}
	r.mu.Unlock()
}

// PruneResults drops retained results past ResultRetention; run on a
// periodic sweep alongside the scheduled tasks.
func (r *Runtime) PruneResults() {
	cutoff := time.Now().Add(-ResultRetention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.results {
		if v.FinishedAt.Before(cutoff) {
			delete(r.results, k)
		}
	}
}

// ResultFor returns the retained result for an idempotency key, if any.
func (r *Runtime) ResultFor(key string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[key]
	return res, ok
}
