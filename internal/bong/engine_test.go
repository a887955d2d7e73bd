package bong

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bigben/internal/eventbus"
	"bigben/internal/storage"
	"bigben/internal/transport"
	logx "bigben/pkg/logx"
)

func TestBroadcastScenarioAtFourteen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-1, "🔔"), recipient(-2, "🔔"), recipient(-3, "🔔"))
	h.msgr.sendErr[-1] = errors.New("network down")

	rep := h.broadcast(t)
	if rep.Total != 3 || rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if h.engine.OpenCount() != 2 {
		t.Fatalf("expected 2 open messages, got %d", h.engine.OpenCount())
	}
	msgB, msgC := h.keyFor(t, -2), h.keyFor(t, -3)

	h.clock.Set(hour14.Add(5 * time.Second))
	if got := h.press(msgB, 1, "u1"); got != OutcomeWon {
		t.Fatalf("U1 on msgB: got %s, want won", got)
	}
	h.clock.Set(hour14.Add(5*time.Second + 10*time.Millisecond))
	if got := h.press(msgB, 2, "u2"); got != OutcomeAlreadyHandled {
		t.Fatalf("U2 on msgB: got %s, want already_handled", got)
	}
	h.clock.Set(hour14.Add(59 * time.Minute))
	if got := h.press(msgC, 3, "u3"); got != OutcomeWon {
		t.Fatalf("U3 on msgC at 14:59: got %s, want won", got)
	}

	wins, err := h.store.QueryWins(context.Background(), storage.WinQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 2 {
		t.Fatalf("expected 2 ledger records, got %d", len(wins))
	}
	for _, w := range wins {
		if w.ChatID == -2 && (w.UserID != 1 || w.ReactionTime() != 5*time.Second) {
			t.Fatalf("unexpected msgB record: %+v", w)
		}
	}
	if h.engine.OpenCount() != 0 {
		t.Fatalf("expected no open messages")
	}
}

func TestRespondAtMostOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{LockTimeout: 50 * time.Millisecond}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	const n = 64
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := range n {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			<-start
			o := h.press(key, uid, fmt.Sprintf("user%d", uid))
			mu.Lock()
			outcomes[o]++
			mu.Unlock()
		}(int64(i + 1))
	}
	close(start)
	wg.Wait()

	if outcomes[OutcomeWon] != 1 {
		t.Fatalf("expected exactly one winner, got %v", outcomes)
	}
	if outcomes[OutcomeWon]+outcomes[OutcomeNotFirst]+outcomes[OutcomeAlreadyHandled] != n {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
	wins, _ := h.store.QueryWins(context.Background(), storage.WinQuery{ChatID: -10})
	if len(wins) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(wins))
	}

	h.drain(t)
	tally, ok := h.engine.Tally(key)
	if !ok || tally.Count() != n {
		t.Fatalf("expected tally of %d, got %d", n, tally.Count())
	}
}

func TestRespondNotFirstWhileLocked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{LockTimeout: time.Second}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	l := h.engine.locks.lockFor(key, h.engine.open.contains)
	if err := l.Acquire(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if got := h.press(key, 1, "a"); got != OutcomeNotFirst {
		t.Fatalf("got %s, want not_first", got)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("held lock must answer without waiting")
	}
	l.Release()

	if got := h.press(key, 2, "b"); got != OutcomeWon {
		t.Fatalf("got %s, want won after release", got)
	}
	if h.engine.locks.len() != 0 {
		t.Fatalf("lock must be pruned after resolution")
	}
}

func TestLatePressesLeaveNoLocks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{LockTimeout: 50 * time.Millisecond}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	if got := h.press(key, 1, "a"); got != OutcomeWon {
		t.Fatalf("got %s, want won", got)
	}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			if got := h.press(key, uid, "late"); got != OutcomeAlreadyHandled {
				t.Errorf("got %s, want already_handled", got)
			}
		}(int64(i + 2))
	}
	wg.Wait()

	if n := h.engine.locks.len(); n != 0 {
		t.Fatalf("resolved message grew %d lock(s)", n)
	}
	if l := h.engine.locks.lockFor(key, h.engine.open.contains); l != nil {
		t.Fatalf("closed message must not get a lock")
	}
}

func TestRespondTooLate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	h.clock.Set(hour14.Add(time.Hour + time.Second))
	if got := h.press(key, 1, "late"); got != OutcomeTooLate {
		t.Fatalf("got %s, want too_late", got)
	}
	// Still open: a stale press never resolves it.
	if h.engine.OpenCount() != 1 {
		t.Fatalf("stale press must not resolve the message")
	}
	h.drain(t)
	if tally, ok := h.engine.Tally(key); !ok || tally.Count() != 1 {
		t.Fatalf("stale press on a tracked message must be tallied")
	}
	if len(h.msgr.editsFor(key)) != 1 {
		t.Fatalf("expected one keyboard refresh")
	}
}

func TestRespondStaleUsesZoneHour(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-3:30", -(3*3600 + 1800))
	h := newHarness(t, Config{Location: loc}, recipient(-10, "🔔"))
	h.clock.Set(time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)) // 10:00 local
	h.broadcast(t)
	key := h.keyFor(t, -10)

	// 14:15 UTC is still 10:45 local.
	h.clock.Set(time.Date(2024, 5, 1, 14, 15, 0, 0, time.UTC))
	if got := h.press(key, 1, "a"); got != OutcomeWon {
		t.Fatalf("got %s, want won within the local hour", got)
	}
}

func TestHourReset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	old := h.keyFor(t, -10)

	h.clock.Set(hour14.Add(time.Hour))
	h.broadcast(t)
	if h.engine.OpenCount() != 1 {
		t.Fatalf("expected only the new message open, got %d", h.engine.OpenCount())
	}
	if _, ok := h.engine.Tally(old); ok {
		t.Fatalf("old tally must be cleared")
	}

	h.clock.Set(hour14.Add(time.Hour + 5*time.Second))
	if got := h.press(old, 1, "a"); got == OutcomeWon {
		t.Fatalf("old message must never be won")
	}
	// Without a message time the engine can only tell it is not open.
	got := h.engine.Respond(context.Background(), Response{Key: old, UserID: 2, Control: ControlPress})
	if got != OutcomeAlreadyHandled {
		t.Fatalf("got %s, want already_handled", got)
	}
	h.drain(t)
	if len(h.msgr.editsFor(old)) != 0 {
		t.Fatalf("untracked message must not be refreshed")
	}
}

func TestRespondIgnoresOtherControls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	got := h.engine.Respond(context.Background(), Response{Key: key, UserID: 1, Control: ControlMedal, MessageAt: hour14})
	if got != OutcomeAlreadyHandled {
		t.Fatalf("got %s, want already_handled", got)
	}
	if tally, _ := h.engine.Tally(key); tally.Count() != 0 {
		t.Fatalf("foreign control must not be tallied")
	}
	if h.engine.OpenCount() != 1 {
		t.Fatalf("foreign control must not resolve")
	}
}

func TestTallyAndMedals(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	users := []string{"ann", "ben", "cat", "dan", "eve"}
	for i, u := range users {
		h.press(key, int64(i+1), u)
		h.drain(t)
	}
	// repeats do not count
	h.press(key, 1, "ann")
	h.press(key, 3, "cat")
	h.drain(t)

	tally, _ := h.engine.Tally(key)
	if tally.Count() != len(users) {
		t.Fatalf("count = %d, want %d", tally.Count(), len(users))
	}

	edits := h.msgr.editsFor(key)
	if len(edits) != len(users) {
		t.Fatalf("expected %d edits (identical renders skipped), got %d", len(users), len(edits))
	}
	want := transport.Keyboard{
		{{Text: "🔔 5 clicks", Data: ControlPress}},
		{{Text: "🥇 ann", Data: ControlMedal}, {Text: "🥈 ben", Data: ControlMedal}, {Text: "🥉 cat", Data: ControlMedal}},
	}
	if last := edits[len(edits)-1]; !last.Equal(want) {
		t.Fatalf("last keyboard = %+v, want %+v", last, want)
	}
	first := transport.Keyboard{
		{{Text: "🔔 1 click", Data: ControlPress}},
		{{Text: "🥇 ann", Data: ControlMedal}},
	}
	if !edits[0].Equal(first) {
		t.Fatalf("first keyboard = %+v, want %+v", edits[0], first)
	}
}

func TestRefreshRetriesAfterFailureAndIgnoresNotModified(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	h.msgr.mu.Lock()
	h.msgr.editErr = errors.New("429 too many requests")
	h.msgr.mu.Unlock()
	h.press(key, 1, "a")
	h.drain(t)

	// Failed edit is not remembered, so the same render is attempted again.
	h.msgr.mu.Lock()
	h.msgr.editErr = transport.ErrNotModified
	h.msgr.mu.Unlock()
	h.press(key, 1, "a")
	h.drain(t)

	// Not-modified counts as applied: no further edit for an identical render.
	h.press(key, 1, "a")
	h.drain(t)

	if got := len(h.msgr.editsFor(key)); got != 2 {
		t.Fatalf("expected 2 edit attempts, got %d", got)
	}
}

func TestRefreshCoalescesBurst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.broadcast(t)
	key := h.keyFor(t, -10)

	gate := make(chan struct{})
	h.msgr.mu.Lock()
	h.msgr.editGate = gate
	h.msgr.mu.Unlock()

	h.press(key, 1, "user1")
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.msgr.mu.Lock()
		waiting := h.msgr.editWaiting
		h.msgr.mu.Unlock()
		if waiting > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first edit never started")
		}
		time.Sleep(time.Millisecond)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 2; i <= n; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			h.press(key, uid, fmt.Sprintf("user%d", uid))
		}(int64(i))
	}
	wg.Wait()

	h.msgr.mu.Lock()
	waiting := h.msgr.editWaiting
	h.msgr.mu.Unlock()
	if waiting != 1 {
		t.Fatalf("burst started %d edits while one was in flight", waiting)
	}

	close(gate)
	h.drain(t)

	edits := h.msgr.editsFor(key)
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits for a burst, got %d", len(edits))
	}
	if got, want := edits[1][0][0].Text, fmt.Sprintf("🔔 %d clicks", n); got != want {
		t.Fatalf("last edit shows %q, want %q", got, want)
	}
	h.msgr.mu.Lock()
	peak := h.msgr.editPeak
	h.msgr.mu.Unlock()
	if peak != 1 {
		t.Fatalf("edits overlapped: peak %d", peak)
	}
}

func TestLedgerFailureKeepsWin(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: hour14}
	msgr := newFakeMessenger(clock)
	store := storage.NewMemory()
	_ = store.UpsertRecipient(context.Background(), recipient(-10, "🔔"))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	e := New(Config{}, Deps{Messenger: msgr, Directory: store, Store: failingStore{store}, Log: logx.Nop(), Bus: bus, Now: clock.Now})
	if _, err := e.Broadcast(context.Background(), Trigger{CycleID: "c", Source: SourceClock}); err != nil {
		t.Fatal(err)
	}
	m, _ := msgr.sentTo(-10)
	key := MessageKey{ChatID: -10, MessageID: m.ref.MessageID}

	if got := e.Respond(context.Background(), Response{Key: key, UserID: 1, Control: ControlPress, MessageAt: hour14}); got != OutcomeWon {
		t.Fatalf("got %s, want won despite ledger failure", got)
	}
	if got := e.Respond(context.Background(), Response{Key: key, UserID: 2, Control: ControlPress, MessageAt: hour14}); got != OutcomeAlreadyHandled {
		t.Fatalf("got %s, want already_handled", got)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeLedgerError {
				if d := ev.Data.(eventbus.LedgerError); d.ChatID != -10 {
					t.Fatalf("unexpected ledger error payload: %+v", d)
				}
				return
			}
		case <-timeout:
			t.Fatalf("expected a ledger error event")
		}
	}
}

func TestGoneRecipientDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{CleanupGone: true}, recipient(-10, "🔔"), recipient(-20, "🔔"))
	h.msgr.sendErr[-10] = fmt.Errorf("telegram: chat not found: %w", transport.ErrRecipientGone)

	rep := h.broadcast(t)
	if rep.Sent != 1 || rep.Failed != 1 || rep.Disabled != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	r, err := h.store.GetRecipient(context.Background(), -10)
	if err != nil || r.Enabled {
		t.Fatalf("gone recipient must be disabled: %+v %v", r, err)
	}

	// Disabled recipients are skipped next hour.
	h.clock.Set(hour14.Add(time.Hour))
	rep = h.broadcast(t)
	if rep.Total != 1 {
		t.Fatalf("expected 1 recipient next hour, got %d", rep.Total)
	}
}

func TestGoneRecipientKeptWithoutCleanup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	h.msgr.sendErr[-10] = transport.ErrRecipientGone
	rep := h.broadcast(t)
	if rep.Disabled != 0 {
		t.Fatalf("cleanup disabled: nothing should be disabled")
	}
	if r, _ := h.store.GetRecipient(context.Background(), -10); !r.Enabled {
		t.Fatalf("recipient must stay enabled")
	}
}

func TestSendTimeoutIsPerRecipient(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SendTimeout: 50 * time.Millisecond}, recipient(-10, "🔔"), recipient(-20, "🔔"))
	h.msgr.block[-10] = true

	rep := h.broadcast(t)
	if rep.Sent != 1 || rep.Failed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if h.engine.OpenCount() != 1 {
		t.Fatalf("only the delivered message is open")
	}
}

func TestNoEmojiSendsWithoutButton(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, ""))
	rep := h.broadcast(t)
	if rep.Sent != 1 {
		t.Fatalf("expected message sent, got %+v", rep)
	}
	m, _ := h.msgr.sentTo(-10)
	if m.kb != nil {
		t.Fatalf("expected no keyboard, got %+v", m.kb)
	}
	if h.engine.OpenCount() != 0 {
		t.Fatalf("message without a button must not be open")
	}
}

func TestDefaultEmojiFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultEmoji: "⏰"}, recipient(-10, ""))
	h.broadcast(t)
	m, _ := h.msgr.sentTo(-10)
	if !m.kb.Equal(pressKeyboard("⏰")) {
		t.Fatalf("expected default emoji keyboard, got %+v", m.kb)
	}
}

func TestScopedTrigger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"), recipient(-20, "🔔"),
		storage.Recipient{ChatID: -30, Emoji: "🔔", Enabled: false})
	h.broadcast(t)
	if h.engine.OpenCount() != 2 {
		t.Fatalf("expected 2 open")
	}

	scope := int64(-10)
	rep, err := h.engine.Trigger(context.Background(), &scope)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 1 || rep.Sent != 1 || rep.Source != SourceManual {
		t.Fatalf("unexpected report: %+v", rep)
	}
	// scoped triggers add, they never reset the hour
	if h.engine.OpenCount() != 3 {
		t.Fatalf("expected 3 open, got %d", h.engine.OpenCount())
	}

	for _, id := range []int64{-30, -99} {
		rep, err = h.engine.Trigger(context.Background(), &id)
		if err != nil || rep.Total != 0 {
			t.Fatalf("scope %d: expected nothing dispatched, got %+v %v", id, rep, err)
		}
	}
}

func TestBroadcastTextPerRecipient(t *testing.T) {
	t.Parallel()

	xmas := time.Date(2024, 12, 25, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, Config{}, recipient(-10, "🔔"),
		storage.Recipient{ChatID: -20, Emoji: "🔔", Enabled: true, Overrides: map[string]string{"12-25": "Festive bong {year}"}})
	h.clock.Set(xmas)
	rep := h.broadcast(t)
	if rep.Text != "🎅 Christmas Bong 🌲" {
		t.Fatalf("report text = %q", rep.Text)
	}
	if m, _ := h.msgr.sentTo(-10); m.text != "🎅 Christmas Bong 🌲" {
		t.Fatalf("calendar text = %q", m.text)
	}
	if m, _ := h.msgr.sentTo(-20); m.text != "Festive bong 2024" {
		t.Fatalf("override text = %q", m.text)
	}
}

func TestBroadcastEventsPublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, recipient(-10, "🔔"))
	events, unsub := h.bus.Subscribe(16)
	defer unsub()
	h.broadcast(t)

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen[eventbus.TypeBroadcast] || !seen[eventbus.TypeDelivery] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestChatter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Chatter: true}, recipient(-10, "🔔"))
	h.clock.Set(hour14.Add(50 * time.Minute))
	if reply, ok := h.engine.Chatter(-10, 1, "Early bong!"); !ok || reply != chatterBadge(50) {
		t.Fatalf("got %q %v", reply, ok)
	}
	if _, ok := h.engine.Chatter(-10, 1, "bong"); ok {
		t.Fatalf("same user must be answered once per hour")
	}
	if _, ok := h.engine.Chatter(-10, 2, "hello"); ok {
		t.Fatalf("non-bong text must be ignored")
	}

	h.clock.Set(hour14.Add(time.Hour))
	h.broadcast(t)
	if _, ok := h.engine.Chatter(-10, 1, "bong"); !ok {
		t.Fatalf("hourly reset must clear chatter memory")
	}

	h.engine.Apply(Config{Chatter: false})
	if _, ok := h.engine.Chatter(-10, 3, "bong"); ok {
		t.Fatalf("disabled chatter must stay quiet")
	}
}

func TestBroadcastDirectoryError(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: hour14}
	e := New(Config{}, Deps{Messenger: newFakeMessenger(clock), Directory: brokenDirectory{}, Store: storage.NewMemory(), Now: clock.Now})
	if err := e.Emit(context.Background(), hour14); err == nil {
		t.Fatalf("expected directory error")
	}
}

type brokenDirectory struct{}

func (brokenDirectory) ListRecipients(context.Context) ([]storage.Recipient, error) {
	return nil, errors.New("db gone")
}
func (brokenDirectory) GetRecipient(context.Context, int64) (storage.Recipient, error) {
	return storage.Recipient{}, errors.New("db gone")
}
func (brokenDirectory) DisableRecipient(context.Context, int64, string) error { return nil }
