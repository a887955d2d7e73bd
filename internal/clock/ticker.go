package clock

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bigben/internal/eventbus"
	logx "bigben/pkg/logx"
)

// EmitFunc raises the hourly broadcast. at is the sampled instant in the clock's location.
type EmitFunc func(ctx context.Context, at time.Time) error

type Config struct {
	CheckEvery string
	Location   *time.Location
}

// Ticker samples the wall clock on a cron schedule and emits once per new hour.
type Ticker struct {
	mu    sync.Mutex
	cfg   Config
	sched cron.Schedule
	c     *cron.Cron
	ctx   context.Context

	gate *Gate
	emit EmitFunc
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time
}

func New(cfg Config, emit EmitFunc, log logx.Logger, bus eventbus.Bus) (*Ticker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	sched, err := ParseCheckSpec(cfg.CheckEvery)
	if err != nil {
		return nil, err
	}
	return &Ticker{
		cfg:   cfg,
		sched: sched,
		gate:  NewGate(),
		emit:  emit,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}, nil
}

func (t *Ticker) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Location
}

// Start begins sampling. ctx is handed to every emit.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	t.ctx = ctx
	t.startLocked()
	t.log.Info("clock started",
		logx.String("tz", t.cfg.Location.String()),
		logx.String("check_every", strings.TrimSpace(t.cfg.CheckEvery)),
	)
}

func (t *Ticker) startLocked() {
	t.c = cron.New(cron.WithLocation(t.cfg.Location))
	t.c.Schedule(t.sched, cron.FuncJob(func() { t.check(t.ctx) }))
	t.c.Start()
}

// Stop stops sampling and waits for a running emit, bounded by ctx.
func (t *Ticker) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("clock stopped")
}

// Run starts the ticker and blocks until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	t.Start(ctx)
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Stop(sctx)
	return nil
}

// Apply swaps the check schedule and/or location. The last fired hour is kept.
func (t *Ticker) Apply(cfg Config) error {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	sched, err := ParseCheckSpec(cfg.CheckEvery)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := strings.TrimSpace(cfg.CheckEvery) != strings.TrimSpace(t.cfg.CheckEvery) ||
		cfg.Location.String() != t.cfg.Location.String()
	t.cfg = cfg
	t.sched = sched
	if !changed || t.c == nil {
		return nil
	}
	old := t.c
	t.startLocked()
	// The old cron may still be running an emit; let it finish on its own.
	old.Stop()
	t.log.Info("clock schedule applied", logx.String("tz", cfg.Location.String()), logx.String("check_every", cfg.CheckEvery))
	return nil
}

// check samples the clock once. It reports whether an emit was attempted.
func (t *Ticker) check(ctx context.Context) (fired bool) {
	now := t.now().In(t.Location())
	if !t.gate.Observe(now) {
		return false
	}

	t.bus.Publish(eventbus.Event{Type: eventbus.TypeTickFired, Data: eventbus.TickFired{Hour: now.Hour(), At: now}})
	t.log.Info("top of the hour", logx.Int("hour", now.Hour()), logx.Time("at", now))

	fired = true
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("hourly emit panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if t.emit == nil {
		return fired
	}
	if err := t.emit(ctx, now); err != nil {
		t.log.Error("hourly emit failed", logx.Int("hour", now.Hour()), logx.Err(err))
	}
	return fired
}
