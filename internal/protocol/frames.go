package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rvald/twinctl/internal/command"
)

// FrameError carries structured context for observability.
type FrameError struct {
	Code    string // e.g. "INVALID_JSON", "MISSING_FIELD", "UNKNOWN_TYPE"
	Field   string // which field was the problem, if applicable
	Message string // human-readable detail
}

func (e *FrameError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("frame error [%s]: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("frame error [%s]: %s", e.Code, e.Message)
}

// Unwrap classifies every decode problem except an unknown type as a
// malformed message.
func (e *FrameError) Unwrap() error {
	if e.Code == "UNKNOWN_TYPE" {
		return nil
	}
	return command.ErrMalformedMessage
}

// MessageType discriminates inbound and outbound messages.
type MessageType string

const (
	TypeCommand       MessageType = "command"
	TypeMCPCommand    MessageType = "mcp.command"
	TypePing          MessageType = "ping"
	TypeInit          MessageType = "init"
	TypeSession       MessageType = "session"
	TypeStatusRequest MessageType = "status.request"
	TypeHealthCheck   MessageType = "health_check"
	TypeCommandResult MessageType = "commandResult"

	TypeResponse    MessageType = "mcp.response"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
	TypeEstablished MessageType = "connection_established"
	TypeSuperseded  MessageType = "session.superseded"
	TypeStatus      MessageType = "status"
	TypeHealth      MessageType = "health"
	TypeHealthState MessageType = "health_status"
	TypeShutdown    MessageType = "shutdown"
)

type RawMessage struct {
	Type MessageType `json:"type"`
}

// CommandBody is the nested command object of an mcp.command message.
type CommandBody struct {
	Action     string         `json:"action"`
	Operation  string         `json:"operation"`
	Target     string         `json:"target"`
	Parameters command.Params `json:"parameters"`
	Params     command.Params `json:"params"`
}

// CommandMessage accepts the flat form, the nested form and the
// operation/params form of a command request.
type CommandMessage struct {
	Type       MessageType    `json:"type"`
	ID         string         `json:"id"`
	CommandID  string         `json:"command_id"`
	Action     string         `json:"action"`
	Operation  string         `json:"operation"`
	Target     string         `json:"target"`
	Parameters command.Params `json:"parameters"`
	Params     command.Params `json:"params"`
	Command    *CommandBody   `json:"command"`
}

// ToCommand normalises the message into a Command.
func (m *CommandMessage) ToCommand() (command.Command, error) {
	name := first(m.Action, m.Operation)
	params := pickParams(m.Parameters, m.Params)
	target := m.Target
	if m.Command != nil {
		name = first(m.Command.Action, m.Command.Operation, name)
		if p := pickParams(m.Command.Parameters, m.Command.Params); p.Len() > 0 {
			params = p
		}
		target = first(m.Command.Target, target)
	}
	cmd := command.Command{
		ID:     first(m.ID, m.CommandID),
		Action: command.ParseAction(name),
		Params: params,
		Target: target,
	}.WithDefaults()
	if err := cmd.Validate(); err != nil {
		return cmd, &FrameError{Code: "MISSING_FIELD", Field: "action", Message: "command missing required \"action\" field"}
	}
	return cmd, nil
}

type PingMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Token     string      `json:"token,omitempty"`
	Timestamp any         `json:"timestamp,omitempty"`
}

// SessionMessage announces a session token. Several spellings are accepted.
type SessionMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	SessionIDJS string      `json:"sessionId"`
	Token       string      `json:"token"`
	ClientID    string      `json:"client_id"`
}

// SessionToken returns the first non-empty token field.
func (m *SessionMessage) SessionToken() string {
	return first(m.SessionID, m.SessionIDJS, m.Token, m.ClientID)
}

type StatusRequest struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

type HealthCheck struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// CommandResultMessage is a renderer reporting how it applied a command.
type CommandResultMessage struct {
	Type        MessageType     `json:"type"`
	CommandID   string          `json:"command_id"`
	CommandIDJS string          `json:"commandId"`
	Success     *bool           `json:"success"`
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	Error       string          `json:"error"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ID returns the correlated command id.
func (m *CommandResultMessage) ID() string { return first(m.CommandID, m.CommandIDJS) }

// OK reports whether the renderer applied the command.
func (m *CommandResultMessage) OK() bool {
	if m.Success != nil {
		return *m.Success
	}
	return m.Status == "success" || m.Status == "ok"
}

// ParseMessage decodes a frame into its concrete message type.
func ParseMessage(data []byte) (any, error) {
	var raw RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid message JSON: %v", err)}
	}

	if raw.Type == "" {
		return nil, &FrameError{Code: "MISSING_FIELD", Field: "type", Message: "message missing required \"type\" field"}
	}

	switch raw.Type {
	case TypeCommand, TypeMCPCommand:
		var msg CommandMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid command JSON: %v", err)}
		}
		return &msg, nil

	case TypePing:
		var msg PingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid ping JSON: %v", err)}
		}
		return &msg, nil

	case TypeInit, TypeSession, "hello":
		var msg SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid session JSON: %v", err)}
		}
		return &msg, nil

	case TypeStatusRequest:
		var msg StatusRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid status request JSON: %v", err)}
		}
		return &msg, nil

	case TypeHealthCheck:
		var msg HealthCheck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid health check JSON: %v", err)}
		}
		return &msg, nil

	case TypeCommandResult:
		var msg CommandResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("invalid command result JSON: %v", err)}
		}
		return &msg, nil

	default:
		return nil, &FrameError{Code: "UNKNOWN_TYPE", Field: "type", Message: fmt.Sprintf("unknown message type: %q", raw.Type)}
	}
}

// SniffSessionToken reports the session token if data is a session
// establishment message.
func SniffSessionToken(data []byte) (string, bool) {
	msg, err := ParseMessage(data)
	if err != nil {
		return "", false
	}
	s, ok := msg.(*SessionMessage)
	if !ok {
		return "", false
	}
	return s.SessionToken(), true
}

func pickParams(candidates ...command.Params) command.Params {
	for _, p := range candidates {
		if p.Len() > 0 {
			return p
		}
	}
	return command.Params{}
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
