package bong

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"bigben/internal/transport"
)

// MaxMedals is the number of medal buttons a bong can carry.
const MaxMedals = 3

var medalIcons = [MaxMedals]string{"🥇", "🥈", "🥉"}

// pressKeyboard is the keyboard a fresh bong is sent with.
func pressKeyboard(emoji string) transport.Keyboard {
	return transport.Keyboard{{{Text: emoji, Data: ControlPress}}}
}

// renderKeyboard derives the keyboard for a tally: the press button shows the
// running count and up to medals buttons name the first pressers.
func renderKeyboard(t TallySnapshot, medals int) transport.Keyboard {
	n := t.Count()
	if n == 0 {
		return pressKeyboard(t.Emoji)
	}
	kb := transport.Keyboard{{{Text: strings.TrimSpace(t.Emoji + " " + clickLabel(n)), Data: ControlPress}}}

	medals = min(max(medals, 0), MaxMedals, n)
	if medals > 0 {
		row := make([]transport.Button, 0, medals)
		for i := range medals {
			row = append(row, transport.Button{
				Text: medalIcons[i] + " " + shortName(t.Responders[i].Name, 24),
				Data: ControlMedal,
			})
		}
		kb = append(kb, row)
	}
	return kb
}

func clickLabel(n int) string {
	if n == 1 {
		return "1 click"
	}
	return fmt.Sprintf("%d clicks", n)
}

func shortName(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "someone"
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes-1]) + "…"
}
