package app

import (
	"context"
	"errors"
	"time"

	"bigben/internal/bong"
	"bigben/internal/clock"
	"bigben/internal/config"
	"bigben/internal/eventbus"
	"bigben/internal/metrics"
	"bigben/internal/observability"
	rtsup "bigben/internal/runtime/supervisor"
	"bigben/internal/storage"
	kit "bigben/internal/transport"
	telegram "bigben/internal/transport/telegram/adapter"
	"bigben/internal/transport/telegram/router"
	logx "bigben/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	engine  *bong.Engine
	clock   *clock.Ticker
	metrics *metrics.Manager
	obs     *observability.Server

	cmdm *router.CommandManager
	sd   *notifier

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink needs its target before Apply, or it warns about a missing log_chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(mapLogTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	bongCfg, err := mapBongConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine := bong.New(bongCfg, bong.Deps{
		Messenger: ad,
		Directory: store,
		Store:     store,
		Log:       log,
		Bus:       bus,
	})

	clockCfg, err := mapClockConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ticker, err := clock.New(clockCfg, engine.Emit, log.With(logx.String("comp", "clock")), bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  engine,
		clock:   ticker,
		metrics: metrics.NewManager(),
		sd:      newNotifier(log.With(logx.String("comp", "systemd"))),
		updates: make(chan kit.Update, 256),
	}
	a.obs = observability.New(log, a.metrics.Handler(), a.health)

	a.cmdm = router.NewCommandManager(log, ad, cfg.Telegram.OwnerUserIDs)
	cmds := newBotCommands(engine, store, log.With(logx.String("comp", "commands")))
	a.cmdm.SetRegistry(cmds.commands(), cmds.callbacks())
	a.cmdm.SetTextHook(cmds.chatter)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// health backs /healthz.
func (a *App) health(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.log.With(logx.String("comp", "metrics")))
	})

	if oc, err := mapObservabilityConfig(a.cfgm.Get()); err != nil {
		a.log.Warn("invalid observability config; server stays off", logx.Err(err))
	} else {
		a.obs.Apply(runCtx, oc)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.clock.Start(runCtx)

	a.sd.ready()
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sd.stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// no new triggers, then no new presses, then let in-flight work settle
	a.stopStep(ctx, "clock", 2*time.Second, func(c context.Context) error { a.clock.Stop(c); return nil })
	a.stopStep(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.stopStep(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.stopStep(ctx, "bong.refresh", 2*time.Second, a.engine.Drain)
	a.stopStep(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.stopStep(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
