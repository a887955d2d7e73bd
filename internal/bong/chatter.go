package bong

import (
	"strings"
	"sync"
	"time"
)

type chatterKey struct {
	chatID int64
	userID int64
}

// chatter answers people who type "bong" themselves, once per chat member per hour.
type chatter struct {
	mu   sync.Mutex
	seen map[chatterKey]struct{}
}

func newChatter() *chatter { return &chatter{seen: map[chatterKey]struct{}{}} }

func isBongText(s string) bool {
	switch strings.ToLower(strings.Trim(s, " .,;?!")) {
	case "bong", "early bong", "late bong":
		return true
	}
	return false
}

// chatterBadge is the reply for a bong typed at minute m of the hour.
func chatterBadge(m int) string {
	switch {
	case m > 45:
		return "⏰ Early bong!"
	case m > 15:
		return "🐢 Late bong!"
	default:
		return "🔔 Bong!"
	}
}

// reply returns the badge for a chat message, or false if it should be ignored.
func (c *chatter) reply(chatID, userID int64, text string, now time.Time) (string, bool) {
	if !isBongText(text) {
		return "", false
	}
	k := chatterKey{chatID: chatID, userID: userID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.seen[k]; done {
		return "", false
	}
	c.seen[k] = struct{}{}
	return chatterBadge(now.Minute()), true
}

func (c *chatter) reset() {
	c.mu.Lock()
	c.seen = map[chatterKey]struct{}{}
	c.mu.Unlock()
}
