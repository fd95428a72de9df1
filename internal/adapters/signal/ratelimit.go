package signal

import (
	"sync"
	"time"

	"github.com/mkrajcer/castroom/internal/core"
)

const (
	defaultMessageLimit  = 120
	defaultMessageWindow = 10 * time.Second
)

// messageLimiter applies a sliding-window cap on inbound frames per
// session. Rejected frames count as attempts too, so a flooding client
// stays blocked until it actually backs off.
type messageLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	warned   map[core.SessionID]time.Time
	limit    int
	interval time.Duration
}

func newMessageLimiter(limit int, interval time.Duration) *messageLimiter {
	return &messageLimiter{
		history:  make(map[core.SessionID][]time.Time),
		warned:   make(map[core.SessionID]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow reports whether the frame may be handled. notify is set on the
// first rejection per window, so the client gets a single error frame
// instead of one per dropped message.
func (rl *messageLimiter) Allow(sid core.SessionID) (allowed, notify bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	allowed = len(fresh) < rl.limit
	fresh = append(fresh, now)
	rl.history[sid] = fresh
	if allowed {
		return true, false
	}

	if last, ok := rl.warned[sid]; !ok || !last.After(windowStart) {
		rl.warned[sid] = now
		return false, true
	}
	return false, false
}

// Forget drops a session's history once its connection is gone.
func (rl *messageLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, sid)
	delete(rl.warned, sid)
}
