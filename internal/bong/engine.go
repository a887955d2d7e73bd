package bong

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bigben/internal/eventbus"
	logx "bigben/pkg/logx"
)

// Config is the runtime configuration of the engine. Zero values take defaults.
type Config struct {
	Workers      int
	RatePerSec   int
	SendTimeout  time.Duration
	DefaultText  string
	DefaultEmoji string
	CleanupGone  bool
	Calendar     map[string]string

	LockTimeout   time.Duration
	LedgerTimeout time.Duration
	// Medals is the number of medal buttons; 0 means MaxMedals, negative means none.
	Medals int

	Location *time.Location
	Chatter  bool
}

const (
	defaultWorkers     = 8
	defaultRatePerSec  = 25
	defaultSendTimeout = 10 * time.Second
	defaultLockTimeout = 500 * time.Millisecond
)

// settings is an immutable, resolved Config swapped atomically on Apply.
type settings struct {
	cfg      Config
	calendar *Calendar
	limiter  *rate.Limiter
	ledger   *Ledger
}

func (e *Engine) resolve(cfg Config) *settings {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	switch {
	case cfg.Medals == 0:
		cfg.Medals = MaxMedals
	case cfg.Medals < 0:
		cfg.Medals = 0
	default:
		cfg.Medals = min(cfg.Medals, MaxMedals)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &settings{
		cfg:      cfg,
		calendar: NewCalendar(cfg.DefaultText, cfg.Calendar),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		ledger:   NewLedger(e.store, cfg.LedgerTimeout),
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Messenger Messenger
	Directory Directory
	Store     WinStore
	Log       logx.Logger
	Bus       eventbus.Bus
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the hourly broadcast and resolves who pressed first.
type Engine struct {
	settings atomic.Pointer[settings]

	messenger Messenger
	dir       Directory
	store     WinStore
	log       logx.Logger
	bus       eventbus.Bus
	now       func() time.Time

	// broadcastMu serialises broadcasts so an hourly reset never interleaves
	// with another broadcast's registrations.
	broadcastMu sync.Mutex

	open    *openSet
	tallies *tallyBook
	locks   *lockTable
	ui      *refresher
	chatter *chatter

	bg sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		messenger: deps.Messenger,
		dir:       deps.Directory,
		store:     deps.Store,
		log:       log.With(logx.String("comp", "bong")),
		bus:       bus,
		now:       now,
		open:      newOpenSet(),
		tallies:   newTallyBook(),
		locks:     newLockTable(),
		ui:        newRefresher(),
		chatter:   newChatter(),
	}
	e.settings.Store(e.resolve(cfg))
	return e
}

// Apply swaps the configuration. In-flight broadcasts finish with the old one.
func (e *Engine) Apply(cfg Config) {
	e.settings.Store(e.resolve(cfg))
}

// Emit is the clock's hook: one unscoped broadcast for the hour starting at at.
func (e *Engine) Emit(ctx context.Context, at time.Time) error {
	_, err := e.Broadcast(ctx, Trigger{CycleID: uuid.NewString(), At: at, Source: SourceClock})
	return err
}

// Trigger runs a manual broadcast. A nil scope means every recipient.
// It never touches the clock's last fired hour.
func (e *Engine) Trigger(ctx context.Context, scope *int64) (Report, error) {
	return e.Broadcast(ctx, Trigger{CycleID: uuid.NewString(), At: e.now(), Source: SourceManual, Scope: scope})
}

// OpenCount is the number of bongs that can still be won.
func (e *Engine) OpenCount() int { return e.open.len() }

// Tally returns a copy of a message's tally.
func (e *Engine) Tally(k MessageKey) (TallySnapshot, bool) { return e.tallies.snapshot(k) }

// Chatter returns the reply for a typed "bong", or false when there is nothing to say.
func (e *Engine) Chatter(chatID, userID int64, text string) (string, bool) {
	s := e.settings.Load()
	if !s.cfg.Chatter {
		return "", false
	}
	return e.chatter.reply(chatID, userID, text, e.now().In(s.cfg.Location))
}

// resetHour forgets everything about the previous hour's messages.
func (e *Engine) resetHour() {
	e.open.reset()
	e.tallies.reset()
	e.locks.reset()
	e.ui.reset()
	e.chatter.reset()
}

// Drain waits for background keyboard refreshes, bounded by ctx.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
