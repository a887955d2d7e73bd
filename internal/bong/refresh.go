package bong

import (
	"context"
	"errors"
	"sync"

	"bigben/internal/transport"
	logx "bigben/pkg/logx"
)

// uiState is the last keyboard successfully applied to one message, plus the
// bookkeeping that keeps at most one refresh runner alive for it.
type uiState struct {
	mu      sync.Mutex
	pending bool
	running bool
	s       *settings

	last transport.Keyboard // runner only
}

// refresher serialises keyboard edits per message.
type refresher struct {
	mu sync.Mutex
	m  map[MessageKey]*uiState
}

func newRefresher() *refresher { return &refresher{m: map[MessageKey]*uiState{}} }

func (r *refresher) state(k MessageKey) *uiState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.m[k]
	if st == nil {
		st = &uiState{}
		r.m[k] = st
	}
	return st
}

func (r *refresher) reset() {
	r.mu.Lock()
	r.m = map[MessageKey]*uiState{}
	r.mu.Unlock()
}

// scheduleRefresh marks k dirty. A burst of presses shares one runner that
// keeps rendering the latest tally until nothing new arrived during an edit.
func (e *Engine) scheduleRefresh(ctx context.Context, s *settings, k MessageKey) {
	st := e.ui.state(k)
	st.mu.Lock()
	st.pending = true
	st.s = s
	if st.running {
		st.mu.Unlock()
		return
	}
	st.running = true
	st.mu.Unlock()

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		base := context.WithoutCancel(ctx)
		for {
			st.mu.Lock()
			if !st.pending {
				st.running = false
				st.mu.Unlock()
				return
			}
			st.pending = false
			s := st.s
			st.mu.Unlock()

			rctx, cancel := context.WithTimeout(base, s.cfg.SendTimeout)
			e.refresh(rctx, s, k, st)
			cancel()
		}
	}()
}

// refresh renders k's keyboard from the latest tally and applies it unless it
// matches what is already shown. Only k's runner calls it.
func (e *Engine) refresh(ctx context.Context, s *settings, k MessageKey, st *uiState) {
	t, ok := e.tallies.snapshot(k)
	if !ok {
		return
	}
	kb := renderKeyboard(t, s.cfg.Medals)
	if st.last.Equal(kb) {
		return
	}
	err := e.messenger.EditKeyboard(ctx, transport.MessageRef{ChatID: k.ChatID, MessageID: k.MessageID}, kb)
	switch {
	case err == nil, errors.Is(err, transport.ErrNotModified):
		st.last = kb
	default:
		e.log.Debug("bong keyboard refresh failed", logx.Int64("chat_id", k.ChatID), logx.Int("message_id", k.MessageID), logx.Err(err))
	}
}
