package bong

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// DefaultText is used when neither the calendar nor an override has an entry.
const DefaultText = "🔔 Bong 🔔"

var builtinCalendar = map[string]string{
	"01-01": "{year} Bong 🎉",
	"02-12": "⛏️ MOLES MOLES MOLES Bong ☠",
	"02-14": "♥🧡💛 Valentine's Bong 💚💙💜",
	"04-01": "🤨 Bing",
	"04-22": "🌍 Earth Bong 🌎",
	"07-02": "👀 Midway of The Year Bong 📅",
	"07-08": "🐱 Blessed Catdotjs Birthday Bong 🎉",
	"09-06": "🥳 Birthday Bong 🎂",
	"10-31": "👻 Spooky Bong 👻",
	"12-25": "🎅 Christmas Bong 🌲",

	"2020-04-12": "Easter Bong",
	"2021-04-04": "Easter Bong",
	"2022-04-17": "Easter Bong",
	"2023-04-09": "🐇 Easter Bong 🥚",
	"2024-03-31": "🐇 Easter Bong 🥚",
}

// Calendar picks the bong text for a date.
type Calendar struct {
	entries     map[string]string
	defaultText string
}

// NewCalendar layers extra entries ("YYYY-MM-DD" or "MM-DD") over the built-in ones.
func NewCalendar(defaultText string, extra map[string]string) *Calendar {
	entries := maps.Clone(builtinCalendar)
	maps.Copy(entries, extra)
	if strings.TrimSpace(defaultText) == "" {
		defaultText = DefaultText
	}
	return &Calendar{entries: entries, defaultText: defaultText}
}

// lookupKeys lists the calendar keys for t, most specific first.
func lookupKeys(t time.Time) []string {
	return []string{t.Format("2006-01-02"), t.Format("01-02")}
}

// Text returns the text for t. A recipient override for the day ("MM-DD") wins
// over the calendar; "{year}" is replaced by t's year.
func (c *Calendar) Text(t time.Time, overrides map[string]string) string {
	text := c.defaultText
	if o, ok := overrides[t.Format("01-02")]; ok && strings.TrimSpace(o) != "" {
		text = o
	} else {
		for _, k := range lookupKeys(t) {
			if v, ok := c.entries[k]; ok {
				text = v
				break
			}
		}
	}
	return strings.ReplaceAll(text, "{year}", strconv.Itoa(t.Year()))
}
