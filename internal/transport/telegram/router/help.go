package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in HTML parse mode: the command list, or one command's
// details when args names it.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	table := m.commands
	ordered := m.ordered
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := table[name]
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> for the list."
		}
		return helpCommandHTML(*c)
	}

	rows := append([]Command(nil), ordered...)
	// owner-only last, alphabetical within groups
	sort.SliceStable(rows, func(i, j int) bool {
		li, lj := rows[i].Access == AccessOwnerOnly, rows[j].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return rows[i].Name < rows[j].Name
	})

	lines := []string{"🔔 <b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, c := range rows {
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		line := prefix + "<code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>owner only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "<code>/"+html.EscapeString(a)+"</code>")
		}
		lines = append(lines, "", "<b>Aliases</b> "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}
