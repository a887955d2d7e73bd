package app

import (
	"context"
	"slices"
	"strings"

	"bigben/internal/config"
	logx "bigben/pkg/logx"
)

// restartOnly lists sections whose changes are only picked up by a restart.
var restartOnly = []string{"storage"}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts; only the latest config matters
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config into every live component.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	a.sd.reloading()
	defer a.sd.ready()

	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if prev != nil && (prev.Telegram.Token != next.Telegram.Token || strings.TrimSpace(prev.Telegram.PollTimeout) != strings.TrimSpace(next.Telegram.PollTimeout)) {
		a.log.Warn("telegram connection settings changed; restart required for them to take effect")
	}

	// target first so Apply doesn't warn about a missing log chat
	a.logs.SetChatTarget(mapLogTarget(next))
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if cc, err := mapClockConfig(next); err != nil {
		a.log.Warn("invalid clock config; keeping previous", logx.Err(err))
	} else if err := a.clock.Apply(cc); err != nil {
		a.log.Warn("clock config rejected; keeping previous", logx.Err(err))
	}

	if bc, err := mapBongConfig(next); err != nil {
		a.log.Warn("invalid bong config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(bc)
	}

	if oc, err := mapObservabilityConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.obs.Apply(c, oc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
