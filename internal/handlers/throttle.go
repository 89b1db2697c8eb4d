package handlers

import (
	"strings"
	"sync"
	"time"
)

// throttle gates bulk import submissions per caller.
type throttle interface {
	Allow(callerID string) bool
}

// importThrottle is a fixed-window counter keyed by caller UID. It exists
// to keep a single client from flooding the file ingestion endpoint; it is
// per-process, not distributed.
type importThrottle struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]callerWindow
}

type callerWindow struct {
	startedAt time.Time
	count     int
}

func newImportThrottle(limit int, window time.Duration, clock func() time.Time) throttle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &importThrottle{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]callerWindow),
	}
}

func (t *importThrottle) Allow(callerID string) bool {
	if t == nil {
		return true
	}
	if callerID = strings.TrimSpace(callerID); callerID == "" {
		callerID = "anonymous"
	}

	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[callerID]
	if !ok || now.Sub(w.startedAt) >= t.window {
		t.evictStale(now)
		t.windows[callerID] = callerWindow{startedAt: now, count: 1}
		return true
	}
	if w.count >= t.limit {
		return false
	}
	w.count++
	t.windows[callerID] = w
	return true
}

// evictStale runs under the mutex whenever a new window opens, so idle
// callers do not accumulate forever.
func (t *importThrottle) evictStale(now time.Time) {
	for id, w := range t.windows {
		if now.Sub(w.startedAt) >= t.window {
			delete(t.windows, id)
		}
	}
}
