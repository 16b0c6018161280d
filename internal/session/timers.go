package session

import (
	"sync"
	"time"
)

// timerSet tracks one pending grace timer per (session, player). Starting a
// timer for a pair that already has one replaces it; cancelling an expired or
// unknown timer is a no-op.
type timerSet struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

type timerKey struct {
	sessionID string
	playerID  string
}

func newTimerSet() timerSet {
	return timerSet{timers: make(map[timerKey]*time.Timer)}
}

func (ts *timerSet) start(sessionID, playerID string, d time.Duration, fn func()) {
	key := timerKey{sessionID, playerID}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := ts.timers[key]; ok {
		old.Stop()
	}
	ts.timers[key] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, key)
		ts.mu.Unlock()
		fn()
	})
}

// cancel stops the pair's timer and reports whether one was pending.
func (ts *timerSet) cancel(sessionID, playerID string) bool {
	key := timerKey{sessionID, playerID}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.timers[key]
	if !ok {
		return false
	}
	delete(ts.timers, key)
	return t.Stop()
}

// cancelSession drops every pending timer for the session.
func (ts *timerSet) cancelSession(sessionID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		if key.sessionID == sessionID {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}
