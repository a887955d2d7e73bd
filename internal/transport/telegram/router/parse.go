package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	// first block of a v4 uuid is enough to correlate log lines
	return uuid.NewString()[:8]
}

// tokenizeCommandLine splits s on whitespace, honouring single or double
// quotes and backslash escapes.
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		quote bool // current token was quoted, keep it even if empty
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, quote = true, ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}
