package replay

import (
	"fmt"
	"strings"
)

// Text renders a trajectory as a plain-text narrative.
func Text(t *Trajectory) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session %s\n", t.SessionID)
	if t.Empty() {
		b.WriteString("No records.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Task:    %s\n", t.Header.Task)
	fmt.Fprintf(&b, "Model:   %s\n", t.Header.Model)
	if t.Header.Timestamp != "" {
		fmt.Fprintf(&b, "Started: %s\n", t.Header.Timestamp)
	}

	for _, v := range t.Steps {
		b.WriteString("\n")
		switch v.Kind {
		case ViewStep:
			fmt.Fprintf(&b, "[%d] %s  %s\n", v.Number, v.Timestamp, v.ActionType)
			writeIndented(&b, v.Description)
			if v.UserComment != "" {
				fmt.Fprintf(&b, "    comment: %s\n", v.UserComment)
			}
			if v.HasImage() {
				fmt.Fprintf(&b, "    image: %s\n", v.ImagePath)
			} else {
				b.WriteString("    image: (none)\n")
			}
		case ViewEnd:
			fmt.Fprintf(&b, "[end] %s  %s\n", v.Timestamp, v.Description)
		default:
			fmt.Fprintf(&b, "[%d] %s  (unrecognised record)\n", v.Number, v.Timestamp)
			writeIndented(&b, v.Description)
		}
	}

	if !t.Closed {
		b.WriteString("\n(session still open)\n")
	}
	return b.String()
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}
