// Package trajectory records and reads per-session trajectory logs: one
// append-only JSONL file per session plus one JPEG per step screenshot.
package trajectory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autopanel-io/autopanel/internal/models"
)

// LogExt is the extension of every session log file.
const LogExt = ".jsonl"

// DefaultSessionLimit is the number of sessions listed when no limit is given.
const DefaultSessionLimit = 20

// ErrInvalidSessionID is returned for ids that are not a single path component.
var ErrInvalidSessionID = errors.New("invalid session id")

// Store locates session logs and step images on disk. Readers and the writer
// must be built from the same directories to see the same sessions.
type Store struct {
	TracesDir string
	ImagesDir string
}

// NewStore returns a store rooted at the given directories.
func NewStore(tracesDir, imagesDir string) *Store {
	return &Store{TracesDir: tracesDir, ImagesDir: imagesDir}
}

// SessionInfo describes one session log file.
type SessionInfo struct {
	ID      string    `json:"id"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// ValidateSessionID rejects empty ids and ids that would escape the traces dir.
func ValidateSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// LogPath returns the log file of a session.
func (s *Store) LogPath(sessionID string) string {
	return filepath.Join(s.TracesDir, sessionID+LogExt)
}

// ImagePath returns the screenshot file of step n (1-based) of a session.
func (s *Store) ImagePath(sessionID string, n int) string {
	return filepath.Join(s.ImagesDir, fmt.Sprintf("%s_step_%d.jpeg", sessionID, n))
}

// ReadSessionLogs returns every parseable record of a session in file order.
// A missing file or an invalid id yields an empty result. Lines that do not
// parse (typically a partially written last line) are skipped.
func (s *Store) ReadSessionLogs(sessionID string) []models.Record {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil
	}

	f, err := os.Open(s.LogPath(sessionID))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[trajectory] Warning: failed to open log for %s: %v", sessionID, err)
		}
		return nil
	}
	defer f.Close()

	records, _ := readRecords(f, func(lineNo int, err error) {
		log.Printf("[trajectory] Warning: skipping line %d of %s: %v", lineNo, sessionID, err)
	})
	return records
}

// FirstRecord returns the first parseable record of a session without
// reading the rest of the log.
func (s *Store) FirstRecord(sessionID string) (models.Record, bool) {
	if ValidateSessionID(sessionID) != nil {
		return models.Record{}, false
	}
	f, err := os.Open(s.LogPath(sessionID))
	if err != nil {
		return models.Record{}, false
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		line, readErr := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var rec models.Record
			if json.Unmarshal(trimmed, &rec) == nil {
				return rec, true
			}
		}
		if readErr != nil {
			return models.Record{}, false
		}
	}
}

// readRecords decodes one record per non-blank line. onBad is called for
// every line that fails to decode. Lines have no length limit.
func readRecords(r io.Reader, onBad func(lineNo int, err error)) ([]models.Record, error) {
	var records []models.Record
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var rec models.Record
				if err := json.Unmarshal(trimmed, &rec); err != nil {
					if onBad != nil {
						onBad(lineNo, err)
					}
				} else {
					records = append(records, rec)
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return records, nil
			}
			return records, readErr
		}
	}
}

// ListAvailableSessions returns up to limit session ids, most recently
// modified first. A limit <= 0 returns every session.
func (s *Store) ListAvailableSessions(limit int) []string {
	infos := s.ListSessionInfos(limit)
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

// ListSessionInfos is ListAvailableSessions with file metadata.
func (s *Store) ListSessionInfos(limit int) []SessionInfo {
	entries, err := os.ReadDir(s.TracesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[trajectory] Warning: failed to list %s: %v", s.TracesDir, err)
		}
		return nil
	}

	var infos []SessionInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, LogExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SessionInfo{
			ID:      strings.TrimSuffix(name, LogExt),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		return infos[i].ID < infos[j].ID
	})

	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos
}

// ensureDirs creates the traces and images directories.
func (s *Store) ensureDirs() error {
	for _, dir := range []string{s.TracesDir, s.ImagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// appendLine appends line plus a newline with a single write.
func appendLine(path string, line []byte) error {
	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}
