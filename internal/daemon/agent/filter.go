package agent

import "strings"

// Visible reports whether a console line is shown in the panel. Blank lines
// and the agent's debug/info logging are hidden; the transcript keeps them.
func Visible(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	return !strings.HasPrefix(line, "[DEBUG]") && !strings.HasPrefix(line, "INFO:")
}

// FilterVisible returns the visible subset of lines.
func FilterVisible(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if Visible(l) {
			out = append(out, l)
		}
	}
	return out
}
