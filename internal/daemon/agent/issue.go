package agent

import (
	"regexp"
	"time"

	"github.com/autopanel-io/autopanel/internal/models"
)

// Pattern detection for model API authentication failures
var authPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Error code:\s*401`),
	regexp.MustCompile(`(?i)\b401\b.*(unauthori[sz]ed|authentication)`),
	regexp.MustCompile(`(?i)invalid.*api[ _-]?key`),
	regexp.MustCompile(`(?i)api[ _-]?key.*(invalid|missing|expired)`),
	regexp.MustCompile(`(?i)AuthenticationError`),
}

// Pattern detection for model API rate limits
var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Error code:\s*429`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)RateLimitError`),
	regexp.MustCompile(`(?i)quota.*(exceeded|insufficient)`),
}

// Pattern detection for adb/device problems
var devicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)no devices/emulators found`),
	regexp.MustCompile(`(?i)device '?[^ ']*'? not found`),
	regexp.MustCompile(`(?i)device offline`),
	regexp.MustCompile(`(?i)device unauthorized`),
	regexp.MustCompile(`(?i)adb: command not found`),
}

// DetectAuthError checks if a line reports a rejected API key.
func DetectAuthError(line string) bool {
	return matchAny(authPatterns, line)
}

// DetectRateLimit checks if a line reports a rate limit or exhausted quota.
func DetectRateLimit(line string) bool {
	return matchAny(rateLimitPatterns, line)
}

// DetectDeviceError checks if a line reports a missing or unusable device.
func DetectDeviceError(line string) bool {
	return matchAny(devicePatterns, line)
}

// DetectIssue checks a cleaned output line for any known problem.
// Returns nil for ordinary output.
func DetectIssue(line string) *models.TaskIssue {
	var kind models.TaskIssueType
	switch {
	case DetectAuthError(line):
		kind = models.TaskIssueAuth
	case DetectRateLimit(line):
		kind = models.TaskIssueRateLimit
	case DetectDeviceError(line):
		kind = models.TaskIssueDevice
	default:
		return nil
	}
	return &models.TaskIssue{
		Type:       kind,
		Message:    line,
		DetectedAt: time.Now().UTC(),
	}
}

func matchAny(patterns []*regexp.Regexp, line string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
