package server

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/autopanel-io/autopanel/internal/buildinfo"
	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// defaultAppLimit caps the package list shown in the panel.
const defaultAppLimit = 50

//go:embed static
var staticFiles embed.FS

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/device", s.handleDevice)
	mux.HandleFunc("GET /api/apps", s.handleApps)
	mux.HandleFunc("POST /api/device/connect", s.handleConnect)
	mux.HandleFunc("GET /api/presets", s.handlePresets)

	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)

	mux.HandleFunc("GET /api/task", s.handleTask)
	mux.HandleFunc("POST /api/task", s.handleStartTask)
	mux.HandleFunc("DELETE /api/task", s.handleStopTask)
	mux.HandleFunc("GET /api/task/output", s.handleTaskOutput)
	mux.HandleFunc("GET /api/task/screen", s.handleTaskScreen)

	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/logs/{id}", s.handleLog)

	mux.Handle("GET /metrics", metrics.Handler())

	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("GET /", http.FileServerFS(static))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// httpStatus maps domain errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrNoTask):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrInvalidRequest),
		errors.Is(err, ErrUnknownPreset),
		errors.Is(err, trajectory.ErrInvalidSessionID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deviceStatus(r.Context()))
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAppLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pkgs, err := s.device.Packages(r.Context(), r.URL.Query().Get("device"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	total := len(pkgs)
	if limit > 0 && len(pkgs) > limit {
		pkgs = pkgs[:limit]
	}
	if pkgs == nil {
		pkgs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs, "total": total})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}

	msg, err := s.device.Connect(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": s.presets()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions(limit))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	t, err := s.render(r.PathValue("id"))
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTask(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"task": s.agentManager.Status()})
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return
	}

	st, err := s.startTask(req)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopTask(w http.ResponseWriter, _ *http.Request) {
	st, err := s.stopTask()
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTaskScreen(w http.ResponseWriter, _ *http.Request) {
	proc, ok := s.agentManager.Process()
	if !ok {
		writeError(w, http.StatusNotFound, agent.ErrNoTask)
		return
	}
	writeJSON(w, http.StatusOK, proc.Screen())
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	entries, err := config.ListConsoleLogs(s.settings.Paths.ConsoleDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, map[string]any{"logs": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	_, body, err := config.ReadConsoleLog(s.settings.Paths.ConsoleDir, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withMetrics records request counts and latencies by route pattern.
func (s *Server) withMetrics(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}
