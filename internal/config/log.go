package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autopanel-io/autopanel/internal/models"
)

const consoleLogExt = ".log"

// WriteConsoleLog writes an agent run's console transcript to dir with a
// YAML header followed by the captured lines.
func WriteConsoleLog(dir string, status *models.TaskStatus, lines []string) (*models.ConsoleLogEntry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create console dir: %w", err)
	}

	endedAt := time.Now().UTC()
	if status.EndedAt != nil {
		endedAt = status.EndedAt.UTC()
	}
	logID := fmt.Sprintf("%s-%s", status.StartedAt.UTC().Format("2006-01-02T15-04-05"), status.RunID)

	entry := &models.ConsoleLogEntry{
		LogID:     logID,
		RunID:     status.RunID,
		SessionID: status.SessionID,
		Task:      status.Task,
		Model:     status.Model,
		StartedAt: status.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   endedAt.Format(time.RFC3339),
		Status:    string(status.State),
	}

	f, err := os.Create(filepath.Join(dir, logID+consoleLogExt))
	if err != nil {
		return nil, fmt.Errorf("failed to create console log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "run_id: %s\n", entry.RunID)
	fmt.Fprintf(w, "session_id: %s\n", entry.SessionID)
	fmt.Fprintf(w, "task: %s\n", oneLine(entry.Task))
	fmt.Fprintf(w, "model: %s\n", entry.Model)
	fmt.Fprintf(w, "started_at: %s\n", entry.StartedAt)
	fmt.Fprintf(w, "ended_at: %s\n", entry.EndedAt)
	fmt.Fprintf(w, "status: %s\n", entry.Status)
	fmt.Fprintln(w, "---")

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}

	return entry, w.Flush()
}

// ListConsoleLogs returns the metadata of every transcript in dir, newest first.
func ListConsoleLogs(dir string) ([]*models.ConsoleLogEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var logs []*models.ConsoleLogEntry
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), consoleLogExt) {
			continue
		}

		entry, err := parseConsoleHeader(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		logs = append(logs, entry)
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartedAt > logs[j].StartedAt
	})

	return logs, nil
}

// ReadConsoleLog reads one transcript and returns its metadata and body.
func ReadConsoleLog(dir, logID string) (*models.ConsoleLogEntry, string, error) {
	if logID == "" || strings.ContainsAny(logID, `/\`) || strings.Contains(logID, "..") {
		return nil, "", fmt.Errorf("invalid log id %q", logID)
	}
	data, err := os.ReadFile(filepath.Join(dir, logID+consoleLogExt))
	if err != nil {
		return nil, "", fmt.Errorf("log not found: %w", err)
	}

	entry, body := parseConsoleContent(string(data))
	if entry == nil {
		return nil, "", fmt.Errorf("invalid log format")
	}
	entry.LogID = logID

	return entry, body, nil
}

func parseConsoleHeader(path string) (*models.ConsoleLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	entry := &models.ConsoleLogEntry{}
	inHeader := false

	for scanner.Scan() {
		line := scanner.Text()
		if line == "---" {
			if !inHeader {
				inHeader = true
				continue
			}
			break
		}
		if inHeader {
			parseConsoleHeaderLine(entry, line)
		}
	}

	entry.LogID = strings.TrimSuffix(filepath.Base(path), consoleLogExt)
	return entry, nil
}

func parseConsoleContent(content string) (*models.ConsoleLogEntry, string) {
	lines := strings.Split(content, "\n")
	entry := &models.ConsoleLogEntry{}
	headerEnd := -1
	inHeader := false

	for i, line := range lines {
		if line == "---" {
			if !inHeader {
				inHeader = true
				continue
			}
			headerEnd = i
			break
		}
		if inHeader {
			parseConsoleHeaderLine(entry, line)
		}
	}

	if headerEnd < 0 {
		return nil, ""
	}

	return entry, strings.Join(lines[headerEnd+1:], "\n")
}

func parseConsoleHeaderLine(entry *models.ConsoleLogEntry, line string) {
	key, val, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)

	switch key {
	case "run_id":
		entry.RunID = val
	case "session_id":
		entry.SessionID = val
	case "task":
		entry.Task = val
	case "model":
		entry.Model = val
	case "started_at":
		entry.StartedAt = val
	case "ended_at":
		entry.EndedAt = val
	case "status":
		entry.Status = val
	}
}

// oneLine keeps multi-line task text from breaking the header.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
