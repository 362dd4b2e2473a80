package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/autopanel-io/autopanel/internal/buildinfo"
	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/daemon/device"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/telemetry"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// ErrUnknownPreset is returned when a task names a preset that is not configured.
var ErrUnknownPreset = errors.New("unknown preset")

// StatusInfo describes the running daemon.
type StatusInfo struct {
	Version   string             `json:"version"`
	Host      string             `json:"host"`
	Port      int                `json:"port"`
	PID       int                `json:"pid"`
	StartedAt time.Time          `json:"started_at"`
	TracesDir string             `json:"traces_dir"`
	ImagesDir string             `json:"images_dir"`
	Task      *models.TaskStatus `json:"task,omitempty"`
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	trajectory.SessionInfo
	Task  string `json:"task,omitempty"`
	Model string `json:"model,omitempty"`
}

// SessionList is the response of the session list.
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
}

// StartTaskRequest is a task request that may name a preset instead of an
// explicit endpoint. Explicit fields win over the preset.
type StartTaskRequest struct {
	agent.TaskRequest
	Preset string `json:"preset,omitempty"`
}

// DeviceReport is a device status that also carries adb failures.
type DeviceReport struct {
	device.Status
	Error string `json:"error,omitempty"`
}

func (s *Server) status() *StatusInfo {
	return &StatusInfo{
		Version:   buildinfo.Version,
		Host:      s.host,
		Port:      s.port,
		PID:       s.pid,
		StartedAt: s.startedAt,
		TracesDir: s.store.TracesDir,
		ImagesDir: s.store.ImagesDir,
		Task:      s.agentManager.Status(),
	}
}

func (s *Server) sessions(limit int) *SessionList {
	if limit <= 0 {
		limit = s.sessionLimit
	}
	infos := s.store.ListSessionInfos(limit)
	list := &SessionList{Sessions: make([]SessionSummary, 0, len(infos))}
	for _, info := range infos {
		sum := SessionSummary{SessionInfo: info}
		if rec, ok := s.store.FirstRecord(info.ID); ok && rec.Message.Start != nil {
			sum.Task = rec.Message.Start.Task
			sum.Model = rec.Message.Start.ModelConfig.ModelName
		}
		list.Sessions = append(list.Sessions, sum)
	}
	return list
}

func (s *Server) render(sessionID string) (*replay.Trajectory, error) {
	if err := trajectory.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	t := s.renderer.Render(sessionID)
	s.telemetry.Capture(telemetry.EventSessionRendered, map[string]any{
		"steps":  len(t.Steps),
		"closed": t.Closed,
	})
	return t, nil
}

// resolveTask fills the endpoint from the named preset.
func (s *Server) resolveTask(req StartTaskRequest) (agent.TaskRequest, error) {
	out := req.TaskRequest
	if req.Preset == "" {
		return out, nil
	}

	s.mu.RLock()
	preset, ok := s.settings.Preset(req.Preset)
	s.mu.RUnlock()
	if !ok {
		return out, fmt.Errorf("%w: %s", ErrUnknownPreset, req.Preset)
	}
	if out.BaseURL == "" {
		out.BaseURL = preset.BaseURL
	}
	if out.Model == "" {
		out.Model = preset.Model
	}
	return out, nil
}

func (s *Server) startTask(req StartTaskRequest) (*models.TaskStatus, error) {
	taskReq, err := s.resolveTask(req)
	if err != nil {
		return nil, err
	}
	st, err := s.agentManager.Start(taskReq)
	if err != nil {
		return nil, err
	}
	s.telemetry.Capture(telemetry.EventTaskStarted, map[string]any{
		"model":  st.Model,
		"device": st.DeviceID != "",
		"preset": req.Preset,
	})
	return st, nil
}

func (s *Server) stopTask() (*models.TaskStatus, error) {
	if err := s.agentManager.Stop(); err != nil {
		return nil, err
	}
	return s.agentManager.Status(), nil
}

func (s *Server) deviceStatus(ctx context.Context) *DeviceReport {
	st, err := s.device.Status(ctx)
	if err != nil {
		log.Printf("[server] Device status failed: %v", err)
		return &DeviceReport{Status: device.Status{Devices: []device.Device{}}, Error: err.Error()}
	}
	return &DeviceReport{Status: *st}
}

func (s *Server) presets() []models.ModelPreset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModelPreset, len(s.settings.Presets))
	copy(out, s.settings.Presets)
	return out
}

// onTaskFinished is registered with the agent manager.
func (s *Server) onTaskFinished(st models.TaskStatus) {
	props := map[string]any{
		"state":     string(st.State),
		"exit_code": st.ExitCode,
		"model":     st.Model,
		"recorded":  st.SessionID != "",
	}
	if st.EndedAt != nil {
		props["duration_seconds"] = st.EndedAt.Sub(st.StartedAt).Seconds()
	}
	if st.Issue != nil {
		props["issue"] = string(st.Issue.Type)
	}
	s.telemetry.Capture(telemetry.EventTaskFinished, props)
}
