package command

import (
	"sync"
	"time"

	"github.com/rwafund/controlplane/internal/tasks"
)

// idempotencyRetention mirrors tasks.ResultRetention: a completed
// command's outcome is retained long enough that an at-least-once
// redelivery of the same idempotency key is recognized as already-done
// rather than re-executed (spec.md §6).
const idempotencyRetention = tasks.ResultRetention

type idemEntry struct {
	result     any
	err        error
	finishedAt time.Time
}

// idemCache is the command surface's own keyed result cache, the same
// shape as tasks.Runtime's results map but holding whole command
// response values rather than a bare success/failure flag, since a
// replayed command must return the same ticket/plan IDs the original
// call produced.
type idemCache struct {
	mu      sync.Mutex
	entries map[string]idemEntry
}

func newIdemCache() *idemCache {
	return &idemCache{entries: make(map[string]idemEntry)}
}

func (c *idemCache) get(key string) (any, error, bool) {
	if key == "" {
		return nil, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	return e.result, e.err, true
}

func (c *idemCache) put(key string, result any, err error) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = idemEntry{result: result, err: err, finishedAt: time.Now()}
	c.mu.Unlock()
}

// prune drops retained entries past idempotencyRetention; call
// alongside the task runtime's own PruneResults sweep.
func (c *idemCache) prune() {
	cutoff := time.Now().Add(-idempotencyRetention)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		if v.finishedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
