package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bigben/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.LogChat) != strings.TrimSpace(newCfg.Telegram.LogChat) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", strings.TrimSpace(newCfg.Telegram.LogChat) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Clock != newCfg.Clock {
		changed = append(changed, "clock")
		attrs = append(attrs,
			logx.String("clock.check_every", strings.TrimSpace(newCfg.Clock.CheckEvery)),
			logx.String("clock.timezone", strings.TrimSpace(newCfg.Clock.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.String("broadcast.send_timeout", strings.TrimSpace(newCfg.Broadcast.SendTimeout)),
			logx.Bool("broadcast.cleanup_gone", newCfg.Broadcast.CleanupGone),
			logx.Int("broadcast.calendar_entries", len(newCfg.Broadcast.Calendar)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Race, newCfg.Race) {
		changed = append(changed, "race")
		medals := -1
		if newCfg.Race.Medals != nil {
			medals = *newCfg.Race.Medals
		}
		attrs = append(attrs,
			logx.String("race.lock_timeout", strings.TrimSpace(newCfg.Race.LockTimeout)),
			logx.String("race.ledger_timeout", strings.TrimSpace(newCfg.Race.LedgerTimeout)),
			logx.Int("race.medals", medals),
		)
	}

	if oldCfg.Chatter != newCfg.Chatter {
		changed = append(changed, "chatter")
		attrs = append(attrs, logx.Bool("chatter.enabled", newCfg.Chatter.Enabled))
	}

	// Nil means the in-memory default.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// Observability (never log token)
	oO, nO := oldCfg.Observability, newCfg.Observability
	tokenSetChanged := (strings.TrimSpace(oO.Token) != "") != (strings.TrimSpace(nO.Token) != "")
	oO.Token, nO.Token = "", ""
	if oO != nO || tokenSetChanged {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", nO.Enabled),
			logx.String("observability.addr", strings.TrimSpace(nO.Addr)),
			logx.Bool("observability.pprof", nO.Pprof),
			logx.Bool("observability.token_set", strings.TrimSpace(newCfg.Observability.Token) != ""),
			logx.Bool("observability.allow_insecure", nO.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
