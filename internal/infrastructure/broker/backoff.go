package broker

import (
	"sync"
	"time"
)

// Backoff tracks the current reconnect delay. The delay grows by 1.5x per
// failure up to a ceiling and resets to the floor on success.
type Backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	cur     time.Duration
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, cur: floor}
}

// Delay returns the current delay without advancing it.
func (b *Backoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Advance grows the delay for the next failure: next = min(cur*1.5, ceiling).
func (b *Backoff) Advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := time.Duration(float64(b.cur) * 1.5)
	if next > b.ceiling {
		next = b.ceiling
	}
	b.cur = next
}

// Reset returns the delay to the floor after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = b.floor
}

// RetryTimer arms a single-shot deferred task. Arming is idempotent: a
// ScheduleOnce while a task is already pending is a no-op, which preserves
// the at-most-one-pending-reconnect invariant.
type RetryTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

// ScheduleOnce arms fn to run after d. Returns false if a task was already
// pending and nothing was armed.
func (t *RetryTimer) ScheduleOnce(d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return false
	}
	t.armed = true
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.armed = false
		t.mu.Unlock()
		fn()
	})
	return true
}

// CancelPending drops an armed-but-not-fired task. Safe to call when nothing
// is pending.
func (t *RetryTimer) CancelPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed && t.timer != nil && t.timer.Stop() {
		t.armed = false
	}
}

// Pending reports whether a task is armed and has not fired yet.
func (t *RetryTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
