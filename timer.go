package pagerender

import (
	"sync"
	"time"
)

// noTimeout is the effective bound for waits with no timeout configured.
const noTimeout = 365 * 24 * time.Hour

type timerState int

const (
	timerPaused timerState = iota
	timerRunning
)

// CountdownTimer is the shared budget for one conversion. Every blocking
// phase draws from the same remaining time, measured against the wall clock
// only while the timer is running; pausing freezes the remaining budget.
// A nil timer is valid and means no budget: it never expires.
type CountdownTimer struct {
	mu      sync.Mutex
	budget  time.Duration
	elapsed time.Duration
	since   time.Time
	state   timerState
}

// NewCountdownTimer creates a paused timer with the given total budget.
func NewCountdownTimer(budget time.Duration) *CountdownTimer {
	return &CountdownTimer{budget: budget}
}

// Start resumes the countdown. Starting a running timer is a no-op.
func (t *CountdownTimer) Start() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == timerRunning {
		return
	}
	t.since = time.Now()
	t.state = timerRunning
}

// Stop pauses the countdown, preserving the elapsed time. Stopping a paused
// timer is a no-op.
func (t *CountdownTimer) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == timerPaused {
		return
	}
	t.elapsed += time.Since(t.since)
	t.state = timerPaused
}

// Remaining returns the unspent budget, clamped at zero. A nil timer reports
// an effectively unbounded remainder.
func (t *CountdownTimer) Remaining() time.Duration {
	if t == nil {
		return noTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.elapsed
	if t.state == timerRunning {
		elapsed += time.Since(t.since)
	}
	if rem := t.budget - elapsed; rem > 0 {
		return rem
	}
	return 0
}

// Expired reports whether the budget has run out. A nil timer never expires.
func (t *CountdownTimer) Expired() bool {
	if t == nil {
		return false
	}
	return t.Remaining() == 0
}

// waitBound combines a per-operation timeout with the conversion timer into
// the single bound a wait should use, reporting whether the timer supplied
// it. The distinction decides which error an elapsed wait maps to: the shared
// budget expiring is ErrConversionTimeout, the operation's own bound elapsing
// is a TimeoutError. A zero timeout means the operation itself is unbounded.
func waitBound(timeout time.Duration, timer *CountdownTimer) (bound time.Duration, fromTimer bool) {
	if timeout <= 0 {
		timeout = noTimeout
	}
	if rem := timer.Remaining(); rem < timeout {
		return rem, true
	}
	return timeout, false
}
