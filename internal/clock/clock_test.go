package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"bigben/internal/eventbus"
	logx "bigben/pkg/logx"
)

func TestParseCheckSpec(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 13, 59, 58, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		next time.Time
	}{
		{name: "default", raw: "", next: base.Add(time.Second)},
		{name: "duration", raw: "1s", next: base.Add(time.Second)},
		{name: "prefixed every", raw: "every:2s", next: base.Add(2 * time.Second)},
		{name: "six field cron", raw: "* * * * * *", next: base.Add(time.Second)},
		{name: "prefixed cron", raw: "cron:0 * * * * *", next: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)},
		{name: "descriptor", raw: "@every 5s", next: base.Add(5 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sched, err := ParseCheckSpec(tt.raw)
			if err != nil {
				t.Fatalf("ParseCheckSpec(%q): %v", tt.raw, err)
			}
			if got := sched.Next(base); !got.Equal(tt.next) {
				t.Fatalf("Next = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestParseCheckSpecInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"soon", "0s", "-1s", "2m", "cron:", "* * *"} {
		if _, err := ParseCheckSpec(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestGateFiresOncePerHour(t *testing.T) {
	t.Parallel()

	g := NewGate()
	start := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	fired := 0
	for i := range 3600 {
		if g.Observe(start.Add(time.Duration(i) * time.Second)) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one fire in an hour of ticks, got %d", fired)
	}
	if g.LastHour() != 14 {
		t.Fatalf("last hour = %d, want 14", g.LastHour())
	}
	if !g.Observe(start.Add(time.Hour)) {
		t.Fatalf("expected fire at the next hour")
	}
}

func TestGateIgnoresNonZeroMinute(t *testing.T) {
	t.Parallel()

	g := NewGate()
	if g.Observe(time.Date(2024, 5, 1, 14, 1, 0, 0, time.UTC)) {
		t.Fatalf("minute 1 must not fire")
	}
	if g.LastHour() != -1 {
		t.Fatalf("last hour must stay unset")
	}
}

func newTestTicker(t *testing.T, emit EmitFunc) (*Ticker, *time.Time) {
	t.Helper()
	tk, err := New(Config{CheckEvery: "1s"}, emit, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("new ticker: %v", err)
	}
	now := time.Date(2024, 5, 1, 13, 59, 59, 0, time.UTC)
	tk.now = func() time.Time { return now }
	return tk, &now
}

func TestTickerEmitsOncePerHour(t *testing.T) {
	t.Parallel()

	var emitted []time.Time
	tk, now := newTestTicker(t, func(ctx context.Context, at time.Time) error {
		emitted = append(emitted, at)
		return nil
	})

	ctx := context.Background()
	for range 3601 {
		tk.check(ctx)
		*now = now.Add(time.Second)
	}
	if len(emitted) != 1 || emitted[0].Hour() != 14 {
		t.Fatalf("expected one emit at 14:00, got %v", emitted)
	}
}

func TestTickerSwallowsEmitFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	tk, now := newTestTicker(t, func(ctx context.Context, at time.Time) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return errors.New("send failed")
	})
	*now = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	ctx := context.Background()
	if !tk.check(ctx) {
		t.Fatalf("expected fire despite panic")
	}
	// hour is recorded even though the emit panicked
	if tk.check(ctx) {
		t.Fatalf("must not re-fire within the same hour")
	}
	*now = now.Add(time.Hour)
	if !tk.check(ctx) {
		t.Fatalf("expected next hour to fire")
	}
	if calls != 2 {
		t.Fatalf("expected 2 emit calls, got %d", calls)
	}
}

func TestTickerUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	var got time.Time
	tk, err := New(Config{Location: loc}, func(ctx context.Context, at time.Time) error {
		got = at
		return nil
	}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// 08:30 UTC is 14:00 at UTC+5:30.
	tk.now = func() time.Time { return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC) }
	if !tk.check(context.Background()) {
		t.Fatalf("expected fire at local top of hour")
	}
	if got.Hour() != 14 || got.Location() != loc {
		t.Fatalf("emit got %v", got)
	}
}

func TestTickerApplyRejectsBadSpec(t *testing.T) {
	t.Parallel()

	tk, _ := newTestTicker(t, nil)
	if err := tk.Apply(Config{CheckEvery: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := tk.Apply(Config{CheckEvery: "500ms", Location: time.UTC}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestTickerStartStop(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	tk, err := New(Config{CheckEvery: "1s"}, func(ctx context.Context, at time.Time) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	tk.now = func() time.Time { return time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tk.Start(ctx)
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("ticker never fired")
	}
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	tk.Stop(sctx)
}
