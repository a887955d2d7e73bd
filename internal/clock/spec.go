package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCheckEvery is how often the wall clock is sampled when nothing is configured.
const DefaultCheckEvery = time.Second

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCheckSpec turns clock.check_every into a cron schedule.
//
// Supported forms:
//   - Go duration: "1s", "500ms" (rounded up to a whole second by cron)
//   - Cron: "* * * * * *", "@every 2s"
//
// Optional prefixes "cron:" and "every:" force one form.
func ParseCheckSpec(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(DefaultCheckEvery), nil
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	default:
		return parseEvery(s)
	}
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron spec required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", expr, err)
	}
	return sched, nil
}

func parseEvery(v string) (cron.Schedule, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid check interval %q (use a duration like '1s' or a cron spec like '* * * * * *')", v)
	}
	if d <= 0 {
		return nil, fmt.Errorf("check interval must be > 0")
	}
	// A check slower than a minute could skip minute 0 entirely.
	if d > time.Minute {
		return nil, fmt.Errorf("check interval %s is longer than a minute", d)
	}
	return cron.Every(d), nil
}
