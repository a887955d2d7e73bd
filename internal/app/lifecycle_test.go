package app

import (
	"context"
	"testing"
	"time"

	logx "bigben/pkg/logx"
)

func TestStopStepIsBounded(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}

	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	a.stopStep(context.Background(), "stuck", 50*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	if took := time.Since(start); took > time.Second {
		t.Fatalf("stuck step held stop for %v", took)
	}
}

func TestStopStepRecoversPanics(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}
	a.stopStep(context.Background(), "boom", time.Second, func(context.Context) error { panic("boom") })
}

func TestStopStepHonoursCallerDeadline(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got time.Duration
	a.stopStep(ctx, "short", time.Hour, func(c context.Context) error {
		dl, _ := c.Deadline()
		got = time.Until(dl)
		return nil
	})
	if got > 20*time.Millisecond {
		t.Fatalf("step deadline %v exceeds caller's", got)
	}
}
