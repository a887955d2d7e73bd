package bong

import (
	"context"
	"sync"
	"time"
)

// msgLock is a one-slot channel lock. Unlike sync.Mutex it can be inspected
// without acquiring and waited on with a deadline.
type msgLock struct {
	ch chan struct{}
}

func newMsgLock() *msgLock { return &msgLock{ch: make(chan struct{}, 1)} }

// Held reports whether someone currently owns the lock. It never changes state.
func (l *msgLock) Held() bool { return len(l.ch) == 1 }

// Acquire waits at most timeout (or until ctx is done) for the lock.
func (l *msgLock) Acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-t.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *msgLock) Release() {
	select {
	case <-l.ch:
	default:
	}
}

// lockTable hands out per-message locks, created on the first press of an open message.
type lockTable struct {
	mu sync.Mutex
	m  map[MessageKey]*msgLock
}

func newLockTable() *lockTable { return &lockTable{m: map[MessageKey]*msgLock{}} }

// lockFor returns k's lock. A missing lock is only created while isOpen(k)
// holds, so a resolved message never grows a fresh lock. nil means neither.
func (t *lockTable) lockFor(k MessageKey, isOpen func(MessageKey) bool) *msgLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.m[k]
	if l == nil && isOpen(k) {
		l = newMsgLock()
		t.m[k] = l
	}
	return l
}

// prune drops k's lock if it is still l.
func (t *lockTable) prune(k MessageKey, l *msgLock) {
	t.mu.Lock()
	if t.m[k] == l {
		delete(t.m, k)
	}
	t.mu.Unlock()
}

func (t *lockTable) reset() {
	t.mu.Lock()
	t.m = map[MessageKey]*msgLock{}
	t.mu.Unlock()
}

func (t *lockTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
