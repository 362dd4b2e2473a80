package trajectory

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/autopanel-io/autopanel/internal/models"
)

//go:embed record.schema.json
var recordSchemaJSON []byte

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error
)

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		recordSchema, recordSchemaErr = compiler.Compile(recordSchemaJSON)
		if recordSchemaErr != nil {
			recordSchemaErr = fmt.Errorf("compile record schema: %w", recordSchemaErr)
		}
	})
	return recordSchema, recordSchemaErr
}

// Problem is one finding of Verify, tied to a 1-based line number.
type Problem struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("line %d: %s", p.Line, p.Message)
}

// Report is the result of verifying a session log.
type Report struct {
	Path     string    `json:"path"`
	Records  int       `json:"records"`
	Steps    int       `json:"steps"`
	Closed   bool      `json:"closed"`
	Problems []Problem `json:"problems,omitempty"`
}

// Valid reports whether no problems were found.
func (r *Report) Valid() bool {
	return len(r.Problems) == 0
}

// Verify checks a session log line by line against the record schema and
// the ordering rules: exactly one session_start as the first record, at
// most one session_end as the last, and a session_id matching the file name.
func Verify(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	expectedID := strings.TrimSuffix(filepath.Base(path), LogExt)
	return verifyReader(f, path, expectedID)
}

type verifier struct {
	schema     *jsonschema.Schema
	expectedID string
	report     *Report
	starts     int
	endLine    int
}

func (v *verifier) add(line int, format string, args ...any) {
	v.report.Problems = append(v.report.Problems, Problem{Line: line, Message: fmt.Sprintf(format, args...)})
}

func verifyReader(r io.Reader, path, expectedID string) (*Report, error) {
	schema, err := compiledRecordSchema()
	if err != nil {
		return nil, err
	}

	v := &verifier{schema: schema, expectedID: expectedID, report: &Report{Path: path}}
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			if line := bytes.TrimSpace(raw); len(line) > 0 {
				v.line(lineNo, line)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return nil, fmt.Errorf("read log: %w", readErr)
			}
			break
		}
	}

	if v.report.Records > 0 && v.starts == 0 {
		v.add(1, "missing session_start record")
	}
	return v.report, nil
}

func (v *verifier) line(lineNo int, line []byte) {
	var rec models.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		v.add(lineNo, "corrupt record: %v", err)
		return
	}

	if v.endLine > 0 {
		v.add(lineNo, "record after session_end on line %d", v.endLine)
	}
	v.report.Records++

	if result := v.schema.ValidateJSON(line); !result.IsValid() {
		v.add(lineNo, "schema validation failed: %v", result.Errors)
	}
	if v.expectedID != "" && rec.SessionID != v.expectedID {
		v.add(lineNo, "session_id %q does not match file %q", rec.SessionID, v.expectedID)
	}

	switch rec.Kind() {
	case models.MessageSessionStart:
		v.starts++
		if v.starts > 1 {
			v.add(lineNo, "more than one session_start record")
		} else if v.report.Records != 1 {
			v.add(lineNo, "session_start is not the first record")
		}
	case models.MessageStep:
		v.report.Steps++
	case models.MessageSessionEnd:
		if v.endLine == 0 {
			v.endLine = lineNo
		} else {
			v.add(lineNo, "more than one session_end record")
		}
		v.report.Closed = true
	}
}
