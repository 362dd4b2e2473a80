package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MessageKind identifies the shape of a trajectory record's message.
type MessageKind string

// Message kinds.
const (
	MessageUnknown      MessageKind = ""
	MessageSessionStart MessageKind = "session_start"
	MessageStep         MessageKind = "step"
	MessageSessionEnd   MessageKind = "session_end"
)

// TaskTypeAutoGLM is the task_type written into every session_start record.
const TaskTypeAutoGLM = "autoglm"

// TimestampLayout is the second-resolution wall-clock layout of Record.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one line of a session's trajectory log.
type Record struct {
	SessionID string  `json:"session_id"`
	Timestamp string  `json:"timestamp"`
	Message   Message `json:"message"`
}

// Kind is a shorthand for r.Message.Kind.
func (r Record) Kind() MessageKind {
	return r.Message.Kind
}

// Message is the tagged payload of a Record. Exactly one of Start, Step or End
// is set for known kinds; Raw keeps the original bytes of a decoded message.
type Message struct {
	Kind  MessageKind
	Start *SessionStart
	Step  *Step
	End   *SessionEnd
	Raw   json.RawMessage
}

// SessionStart is the first record of every session.
type SessionStart struct {
	Task        string         `json:"task"`
	TaskType    string         `json:"task_type"`
	ModelConfig ModelConfig    `json:"model_config"`
	ExtraInfo   map[string]any `json:"extra_info"`
}

// ModelConfig names the model that drove the session.
type ModelConfig struct {
	ModelName string `json:"model_name"`
}

// Step is one perception-action cycle.
type Step struct {
	Environment Environment `json:"environment"`
	Action      Action      `json:"action"`
}

// Environment is what the agent observed before acting.
type Environment struct {
	Image       string `json:"image"`
	UserComment string `json:"user_comment"`
}

// Action is the agent's reasoning and chosen action. Fields holds every
// action-specific key other than cot and action_type.
type Action struct {
	Cot        string
	ActionType string
	Fields     map[string]any
}

// SessionEnd closes a session.
type SessionEnd struct {
	Message string `json:"message"`
}

// NewSessionStartMessage builds a session_start payload.
func NewSessionStartMessage(task, modelName string, extra map[string]any) Message {
	if extra == nil {
		extra = map[string]any{}
	}
	return Message{
		Kind: MessageSessionStart,
		Start: &SessionStart{
			Task:        task,
			TaskType:    TaskTypeAutoGLM,
			ModelConfig: ModelConfig{ModelName: modelName},
			ExtraInfo:   extra,
		},
	}
}

// NewStepMessage builds a step payload.
func NewStepMessage(env Environment, action Action) Message {
	return Message{Kind: MessageStep, Step: &Step{Environment: env, Action: action}}
}

// NewSessionEndMessage builds a session_end payload.
func NewSessionEndMessage(text string) Message {
	return Message{Kind: MessageSessionEnd, End: &SessionEnd{Message: text}}
}

// NewAction merges the positional reasoning and action type with the
// caller's action fields. A "cot" or "action_type" key in fields wins over
// the positional value.
func NewAction(cot, actionType string, fields map[string]any) Action {
	a := Action{Cot: cot, ActionType: actionType, Fields: map[string]any{}}
	for k, v := range fields {
		switch k {
		case "cot":
			a.Cot = stringify(v)
		case "action_type":
			a.ActionType = stringify(v)
		default:
			a.Fields[k] = v
		}
	}
	return a
}

// Map returns the action as the flat object written to disk.
func (a Action) Map() map[string]any {
	m := make(map[string]any, len(a.Fields)+2)
	for k, v := range a.Fields {
		m[k] = v
	}
	m["cot"] = a.Cot
	m["action_type"] = a.ActionType
	return m
}

// MarshalJSON writes cot and action_type first, then the remaining fields
// in key order.
func (a Action) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, "cot", a.Cot, true); err != nil {
		return nil, err
	}
	if err := writeMember(&buf, "action_type", a.ActionType, false); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		if k == "cot" || k == "action_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeMember(&buf, k, a.Fields[k], false); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON splits cot and action_type out of the flat action object.
func (a *Action) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*a = NewAction("", "", m)
	return nil
}

type sessionStartWire struct {
	LogType string `json:"log_type"`
	*SessionStart
}

type sessionEndWire struct {
	LogType string `json:"log_type"`
	*SessionEnd
}

// MarshalJSON encodes the payload in its on-disk shape.
func (m Message) MarshalJSON() ([]byte, error) {
	switch {
	case m.Kind == MessageSessionStart && m.Start != nil:
		start := *m.Start
		if start.ExtraInfo == nil {
			start.ExtraInfo = map[string]any{}
		}
		return MarshalCompact(sessionStartWire{LogType: string(MessageSessionStart), SessionStart: &start})
	case m.Kind == MessageStep && m.Step != nil:
		return MarshalCompact(m.Step)
	case m.Kind == MessageSessionEnd && m.End != nil:
		return MarshalCompact(sessionEndWire{LogType: string(MessageSessionEnd), SessionEnd: m.End})
	case len(m.Raw) > 0:
		return m.Raw, nil
	}
	return []byte("{}"), nil
}

// UnmarshalJSON recognises the payload shape. Objects that match none of
// the known shapes decode as MessageUnknown; non-objects are an error.
func (m *Message) UnmarshalJSON(data []byte) error {
	var probe struct {
		LogType     string          `json:"log_type"`
		Environment json.RawMessage `json:"environment"`
		Action      json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	*m = Message{Raw: append(json.RawMessage(nil), data...)}
	switch {
	case probe.LogType == string(MessageSessionStart):
		var s SessionStart
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("session_start: %w", err)
		}
		m.Kind, m.Start = MessageSessionStart, &s
	case probe.LogType == string(MessageSessionEnd):
		var e SessionEnd
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("session_end: %w", err)
		}
		m.Kind, m.End = MessageSessionEnd, &e
	case probe.Action != nil || probe.Environment != nil:
		var s Step
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		m.Kind, m.Step = MessageStep, &s
	}
	return nil
}

// MarshalCompact encodes v as single-line JSON without HTML escaping.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeMember(buf *bytes.Buffer, key string, value any, first bool) error {
	if !first {
		buf.WriteByte(',')
	}
	k, err := MarshalCompact(key)
	if err != nil {
		return err
	}
	v, err := MarshalCompact(value)
	if err != nil {
		return fmt.Errorf("action field %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
