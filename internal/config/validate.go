package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks everything that can be checked without touching the outside world.
// Clock specs are checked by the app validator (they need the cron parser).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	if _, _, err := ParseChatRef(c.Telegram.LogChat); err != nil {
		errs = append(errs, fmt.Errorf("telegram.log_chat: %w", err))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"broadcast.send_timeout", c.Broadcast.SendTimeout},
		{"race.lock_timeout", c.Race.LockTimeout},
		{"race.ledger_timeout", c.Race.LedgerTimeout},
		{"observability.read_timeout", c.Observability.ReadTimeout},
		{"observability.write_timeout", c.Observability.WriteTimeout},
		{"observability.idle_timeout", c.Observability.IdleTimeout},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := LoadLocation("clock.timezone", c.Clock.Timezone); err != nil {
		errs = append(errs, err)
	}
	if c.Broadcast.Workers < 0 {
		errs = append(errs, errors.New("broadcast.workers: must be >= 0"))
	}
	if c.Broadcast.RatePerSec < 0 {
		errs = append(errs, errors.New("broadcast.rate_per_sec: must be >= 0"))
	}
	for k := range c.Broadcast.Calendar {
		if !validCalendarKey(k) {
			errs = append(errs, fmt.Errorf("broadcast.calendar: key %q is not YYYY-MM-DD or MM-DD", k))
		}
	}
	if c.Race.Medals != nil && (*c.Race.Medals < 0 || *c.Race.Medals > 3) {
		errs = append(errs, errors.New("race.medals: must be between 0 and 3"))
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "sqlite", "memory":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
		}
	}
	return errors.Join(errs...)
}

func validCalendarKey(k string) bool {
	if _, err := time.Parse("2006-01-02", k); err == nil {
		return true
	}
	// leap day needs a leap year to parse
	_, err := time.Parse("2006-01-02", "2000-"+k)
	return err == nil && len(k) == 5
}

// ParseChatRef parses "<chat_id>" or "<chat_id>:<thread_id>". Empty input yields zeros.
func ParseChatRef(raw string) (int64, int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, nil
	}
	chatPart, threadPart, hasThread := strings.Cut(raw, ":")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("invalid chat id %q", chatPart)
	}
	if !hasThread {
		return chatID, 0, nil
	}
	threadID, err := strconv.Atoi(strings.TrimSpace(threadPart))
	if err != nil || threadID < 0 {
		return 0, 0, fmt.Errorf("invalid thread id %q", threadPart)
	}
	return chatID, threadID, nil
}
