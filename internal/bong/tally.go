package bong

import (
	"sync"
	"time"
)

// Responder is someone who pressed a bong button.
type Responder struct {
	UserID int64
	Name   string
}

// TallySnapshot is a copy of one message's tally.
type TallySnapshot struct {
	Emoji     string
	CreatedAt time.Time
	// Responders are the distinct pressers in arrival order.
	Responders []Responder
}

func (t TallySnapshot) Count() int { return len(t.Responders) }

type tally struct {
	emoji      string
	createdAt  time.Time
	responders []Responder
	seen       map[int64]struct{}
}

// tallyBook tracks presses for every message sent since the last hourly reset.
type tallyBook struct {
	mu sync.Mutex
	m  map[MessageKey]*tally
}

func newTallyBook() *tallyBook { return &tallyBook{m: map[MessageKey]*tally{}} }

func (b *tallyBook) track(k MessageKey, emoji string, createdAt time.Time) {
	b.mu.Lock()
	b.m[k] = &tally{emoji: emoji, createdAt: createdAt, seen: map[int64]struct{}{}}
	b.mu.Unlock()
}

// record adds r to k's tally. It reports false if k is not tracked.
// Repeat presses by the same user are not counted twice.
func (b *tallyBook) record(k MessageKey, r Responder) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.m[k]
	if t == nil {
		return false
	}
	if _, dup := t.seen[r.UserID]; !dup {
		t.seen[r.UserID] = struct{}{}
		t.responders = append(t.responders, r)
	}
	return true
}

func (b *tallyBook) snapshot(k MessageKey) (TallySnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.m[k]
	if t == nil {
		return TallySnapshot{}, false
	}
	return TallySnapshot{
		Emoji:      t.emoji,
		CreatedAt:  t.createdAt,
		Responders: append([]Responder(nil), t.responders...),
	}, true
}

func (b *tallyBook) reset() {
	b.mu.Lock()
	b.m = map[MessageKey]*tally{}
	b.mu.Unlock()
}
