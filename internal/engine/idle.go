package engine

import (
	"context"
	"sync"
	"time"
)

// idleTracker follows in-flight network requests of a page. The page is idle
// once at most maxInflight requests have been pending and no request started
// or finished for the quiet period.
type idleTracker struct {
	mu           sync.Mutex
	inflight     map[string]struct{}
	lastActivity time.Time
	now          func() time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight:     map[string]struct{}{},
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

func (t *idleTracker) started(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastActivity = t.now()
}

func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.lastActivity = t.now()
}

// reset forgets requests from a previous document.
func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = map[string]struct{}{}
	t.lastActivity = t.now()
}

func (t *idleTracker) idle(quiet time.Duration, maxInflight int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) <= maxInflight && t.now().Sub(t.lastActivity) >= quiet
}

func (t *idleTracker) wait(ctx context.Context, quiet time.Duration, maxInflight int) error {
	poll := quiet / 5
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if t.idle(quiet, maxInflight) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
