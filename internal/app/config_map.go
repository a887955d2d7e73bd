package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bigben/internal/bong"
	"bigben/internal/clock"
	"bigben/internal/config"
	"bigben/internal/observability"
	"bigben/internal/storage"
	kit "bigben/internal/transport"
	logx "bigben/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapLogTarget resolves telegram.log_chat. Validation already rejected bad refs.
func mapLogTarget(cfg *config.Config) kit.ChatTarget {
	chatID, threadID, err := config.ParseChatRef(cfg.Telegram.LogChat)
	if err != nil {
		return kit.ChatTarget{}
	}
	return kit.ChatTarget{ChatID: chatID, ThreadID: threadID}
}

func mapClockConfig(cfg *config.Config) (clock.Config, error) {
	loc, err := config.LoadLocation("clock.timezone", cfg.Clock.Timezone)
	if err != nil {
		return clock.Config{}, err
	}
	return clock.Config{CheckEvery: cfg.Clock.CheckEvery, Location: loc}, nil
}

func mapBongConfig(cfg *config.Config) (bong.Config, error) {
	loc, err := config.LoadLocation("clock.timezone", cfg.Clock.Timezone)
	if err != nil {
		return bong.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("broadcast.send_timeout", cfg.Broadcast.SendTimeout)
	if err != nil {
		return bong.Config{}, err
	}
	lockTimeout, err := config.ParseDurationField("race.lock_timeout", cfg.Race.LockTimeout)
	if err != nil {
		return bong.Config{}, err
	}
	ledgerTimeout, err := config.ParseDurationOrDefault("race.ledger_timeout", cfg.Race.LedgerTimeout, 5*time.Second)
	if err != nil {
		return bong.Config{}, err
	}

	// omitted means the full medal row; an explicit 0 turns medals off
	medals := 0
	if cfg.Race.Medals != nil {
		medals = *cfg.Race.Medals
		if medals == 0 {
			medals = -1
		}
	}

	return bong.Config{
		Workers:       cfg.Broadcast.Workers,
		RatePerSec:    cfg.Broadcast.RatePerSec,
		SendTimeout:   sendTimeout,
		DefaultText:   cfg.Broadcast.DefaultText,
		DefaultEmoji:  strings.TrimSpace(cfg.Broadcast.DefaultEmoji),
		CleanupGone:   cfg.Broadcast.CleanupGone,
		Calendar:      cfg.Broadcast.Calendar,
		LockTimeout:   lockTimeout,
		LedgerTimeout: ledgerTimeout,
		Medals:        medals,
		Location:      loc,
		Chatter:       cfg.Chatter.Enabled,
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	// 0 keeps long pprof profiles working
	write, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:              oc.Enabled,
		Addr:                 strings.TrimSpace(oc.Addr),
		Token:                oc.Token,
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		PprofPrefix:          oc.PprofPrefix,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
	}, nil
}

// validateConfig rejects a hot reload that a component could not apply.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := clock.ParseCheckSpec(cfg.Clock.CheckEvery); err != nil {
		return fmt.Errorf("clock.check_every: %w", err)
	}
	if _, err := mapClockConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBongConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObservabilityConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
