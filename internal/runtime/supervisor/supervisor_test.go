package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "bigben/pkg/logx"
)

func TestGoRecoversPanicAndCancels(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if s.Context().Err() == nil {
		t.Fatalf("expected supervisor context to be canceled")
	}
	if c := s.Counters(); c.Panics != 1 || c.Active != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestGoIgnoresContextCanceled(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithLogger(logx.Nop()))
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected 3 runs, got %d", got)
	}
	if c := s.Counters(); c.Restarts != 2 {
		t.Fatalf("expected 2 restarts, got %d", c.Restarts)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithLogger(logx.Nop()))
	s.GoRestart("broken", func(ctx context.Context) error {
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected final error")
	}
}
