package router

import (
	"sort"
	"strings"
	"unicode"

	kit "bigben/internal/transport"
)

// sanitizeTelegramCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// buildTelegramMenuCommands lists commands for the client's autocomplete menu.
func buildTelegramMenuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	for _, c := range cmds {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
