package clock

import (
	"sync"
	"time"
)

// Gate decides whether a sampled instant is a new top of the hour.
// It fires when minute == 0 and the hour differs from the last hour it fired for.
type Gate struct {
	mu       sync.Mutex
	lastHour int // -1 until the first fire
}

func NewGate() *Gate { return &Gate{lastHour: -1} }

// Observe reports whether t should raise a broadcast, recording the hour if so.
// t must already be in the clock's location.
func (g *Gate) Observe(t time.Time) bool {
	if t.Minute() != 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	h := t.Hour()
	if h == g.lastHour {
		return false
	}
	g.lastHour = h
	return true
}

// LastHour returns the last fired hour, or -1.
func (g *Gate) LastHour() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastHour
}
