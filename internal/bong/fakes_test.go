package bong

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bigben/internal/eventbus"
	"bigben/internal/storage"
	"bigben/internal/transport"
	logx "bigben/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentMsg struct {
	to   transport.ChatTarget
	text string
	kb   transport.Keyboard
	ref  transport.MessageRef
}

type fakeMessenger struct {
	clock *fakeClock

	mu      sync.Mutex
	nextID  int
	sendErr map[int64]error
	block   map[int64]bool
	sent    []sentMsg
	edits   map[MessageKey][]transport.Keyboard
	editErr error

	// editGate, when set, parks every edit until it is closed.
	editGate    chan struct{}
	editWaiting int
	editActive  int
	editPeak    int
}

func newFakeMessenger(clock *fakeClock) *fakeMessenger {
	return &fakeMessenger{
		clock:   clock,
		sendErr: map[int64]error{},
		block:   map[int64]bool{},
		edits:   map[MessageKey][]transport.Keyboard{},
	}
}

func (f *fakeMessenger) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	blocked := f.block[to.ChatID]
	err := f.sendErr[to.ChatID]
	f.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return transport.MessageRef{}, ctx.Err()
	}
	if err != nil {
		return transport.MessageRef{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID, SentAt: f.clock.Now()}
	var kb transport.Keyboard
	if opt != nil {
		kb = opt.Keyboard
	}
	f.sent = append(f.sent, sentMsg{to: to, text: text, kb: kb, ref: ref})
	return ref, nil
}

func (f *fakeMessenger) EditKeyboard(ctx context.Context, ref transport.MessageRef, kb transport.Keyboard) error {
	f.mu.Lock()
	gate := f.editGate
	f.editActive++
	f.editPeak = max(f.editPeak, f.editActive)
	f.editWaiting++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.editActive--
		f.mu.Unlock()
	}()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	k := MessageKey{ChatID: ref.ChatID, MessageID: ref.MessageID}
	f.edits[k] = append(f.edits[k], kb)
	return f.editErr
}

func (f *fakeMessenger) sentTo(chatID int64) (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].to.ChatID == chatID {
			return f.sent[i], true
		}
	}
	return sentMsg{}, false
}

func (f *fakeMessenger) editsFor(k MessageKey) []transport.Keyboard {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Keyboard(nil), f.edits[k]...)
}

// failingStore wraps a store and fails every win insert.
type failingStore struct {
	storage.Store
}

func (failingStore) InsertWin(ctx context.Context, w storage.WinRecord) error {
	return errors.New("disk on fire")
}

type harness struct {
	clock  *fakeClock
	msgr   *fakeMessenger
	store  storage.Store
	bus    eventbus.Bus
	engine *Engine
}

var hour14 = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, cfg Config, recipients ...storage.Recipient) *harness {
	t.Helper()
	clock := &fakeClock{t: hour14}
	msgr := newFakeMessenger(clock)
	store := storage.NewMemory()
	ctx := context.Background()
	for _, r := range recipients {
		if err := store.UpsertRecipient(ctx, r); err != nil {
			t.Fatalf("seed recipient: %v", err)
		}
	}
	bus := eventbus.New()
	e := New(cfg, Deps{
		Messenger: msgr,
		Directory: store,
		Store:     store,
		Log:       logx.Nop(),
		Bus:       bus,
		Now:       clock.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Drain(ctx)
		_ = store.Close()
	})
	return &harness{clock: clock, msgr: msgr, store: store, bus: bus, engine: e}
}

func (h *harness) broadcast(t *testing.T) Report {
	t.Helper()
	rep, err := h.engine.Broadcast(context.Background(), Trigger{CycleID: "test", At: h.clock.Now(), Source: SourceClock})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	return rep
}

func (h *harness) keyFor(t *testing.T, chatID int64) MessageKey {
	t.Helper()
	m, ok := h.msgr.sentTo(chatID)
	if !ok {
		t.Fatalf("nothing sent to %d", chatID)
	}
	return MessageKey{ChatID: m.ref.ChatID, MessageID: m.ref.MessageID}
}

func (h *harness) press(key MessageKey, userID int64, name string) Outcome {
	return h.engine.Respond(context.Background(), Response{
		Key:       key,
		UserID:    userID,
		UserName:  name,
		Control:   ControlPress,
		MessageAt: hourOf(h, key),
	})
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.engine.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func hourOf(h *harness, key MessageKey) time.Time {
	h.msgr.mu.Lock()
	defer h.msgr.mu.Unlock()
	for _, m := range h.msgr.sent {
		if m.ref.ChatID == key.ChatID && m.ref.MessageID == key.MessageID {
			return m.ref.SentAt
		}
	}
	return time.Time{}
}

func recipient(chatID int64, emoji string) storage.Recipient {
	return storage.Recipient{ChatID: chatID, Emoji: emoji, Enabled: true}
}
