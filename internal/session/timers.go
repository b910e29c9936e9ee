package session

import (
	"sync"
	"time"
)

// timerSet is the session's single owned registry of named timers. Every
// state transition cancels the whole set, so a timer armed in one state can
// never fire into another.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// arm schedules fn under the given name, replacing any timer already armed
// with that name.
func (ts *timerSet) arm(name string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[name]; ok {
		t.Stop()
	}
	ts.timers[name] = time.AfterFunc(d, fn)
}

// cancelAll stops every armed timer. Timers already mid-fire may still run
// their callback; callbacks must re-check session state.
func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}
