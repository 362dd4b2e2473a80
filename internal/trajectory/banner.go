package trajectory

import (
	"regexp"

	"github.com/charmbracelet/x/ansi"
)

// SessionBannerPrefix starts the line a writer prints when a session begins.
// Supervisors that only see the writer's output use it to learn the id.
const SessionBannerPrefix = "Session ID: "

var bannerPattern = regexp.MustCompile(`Session ID:\s*([A-Za-z0-9][A-Za-z0-9_-]*)`)

// FormatBanner returns the banner line for a session, without a newline.
func FormatBanner(sessionID string) string {
	return SessionBannerPrefix + sessionID
}

// ParseBanner extracts the session id from an output line. Terminal escape
// sequences are stripped first.
func ParseBanner(line string) (string, bool) {
	m := bannerPattern.FindStringSubmatch(ansi.Strip(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}
