package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rvald/twinctl/internal/command"
)

// ResponseMessage correlates a Result to the command that produced it.
type ResponseMessage struct {
	Type      MessageType    `json:"type"`
	CommandID string         `json:"command_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Data      command.Params `json:"data"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// BroadcastMessage is the form renderers receive.
type BroadcastMessage struct {
	Type      MessageType    `json:"type"`
	CommandID string         `json:"command_id"`
	Operation string         `json:"operation"`
	Params    command.Params `json:"params"`
	Target    string         `json:"target,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type PongMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Token     string      `json:"token,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	ID        string      `json:"id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// EstablishedMessage tells a client which id it was registered under.
type EstablishedMessage struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"clientId"`
	Channel   string      `json:"channel"`
	SessionID string      `json:"sessionId"`
	Timestamp string      `json:"timestamp"`
}

type SupersededMessage struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"clientId"`
	Reason    string      `json:"reason"`
	Timestamp string      `json:"timestamp"`
}

// StatusMessage summarises the gateway for status subscribers.
type StatusMessage struct {
	Type        MessageType    `json:"type"`
	ID          string         `json:"id,omitempty"`
	Connections map[string]int `json:"connections"`
	Total       int            `json:"total"`
	Operations  []string       `json:"operations"`
	Timestamp   string         `json:"timestamp"`
}

type HealthMessage struct {
	Type          MessageType `json:"type"`
	ID            string      `json:"id,omitempty"`
	Status        string      `json:"status"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Direct        bool        `json:"direct"`
	Timestamp     string      `json:"timestamp"`
}

type ShutdownMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// NewResponse builds the wire form of a Result.
func NewResponse(res command.Result) ResponseMessage {
	status := "success"
	if !res.Success {
		status = "error"
	}
	data := res.Data
	if data.Len() == 0 {
		data = command.Params{}
	}
	return ResponseMessage{
		Type:      TypeResponse,
		CommandID: res.CommandID,
		Status:    status,
		Message:   res.Message,
		Data:      data,
		Error:     res.ErrorText(),
		Code:      command.Code(res.Err),
		Timestamp: Timestamp(time.Now()),
	}
}

// MarshalResponse builds a JSON-encoded mcp.response message.
func MarshalResponse(res command.Result) ([]byte, error) {
	if res.CommandID == "" {
		return nil, &FrameError{Code: "MISSING_FIELD", Field: "command_id", Message: "response missing required \"command_id\" field"}
	}
	return marshal(NewResponse(res))
}

// MarshalCommand builds the broadcast form of cmd, reusing its id.
func MarshalCommand(cmd command.Command) ([]byte, error) {
	if cmd.ID == "" {
		return nil, &FrameError{Code: "MISSING_FIELD", Field: "command_id", Message: "command missing required \"command_id\" field"}
	}
	if cmd.Action == "" {
		return nil, &FrameError{Code: "MISSING_FIELD", Field: "operation", Message: "command missing required \"operation\" field"}
	}
	params := cmd.Params
	if params.Len() == 0 {
		params = command.Params{}
	}
	return marshal(BroadcastMessage{
		Type:      TypeMCPCommand,
		CommandID: cmd.ID,
		Operation: cmd.Action.String(),
		Params:    params,
		Target:    cmd.Target,
		Timestamp: Timestamp(cmd.Timestamp),
	})
}

// MarshalPong answers a ping, echoing its id and token.
func MarshalPong(ping *PingMessage) ([]byte, error) {
	return marshal(PongMessage{
		Type:      TypePong,
		ID:        ping.ID,
		Token:     ping.Token,
		Timestamp: Timestamp(time.Now()),
	})
}

// MarshalError builds an error message. Undecodable frames are reported as
// MALFORMED_MESSAGE; unknown types keep their own code.
func MarshalError(id string, err error) ([]byte, error) {
	code := command.Code(err)
	var fe *FrameError
	if errors.As(err, &fe) && fe.Code == "UNKNOWN_TYPE" {
		code = fe.Code
	}
	return marshal(ErrorMessage{
		Type:      TypeError,
		Code:      code,
		Message:   err.Error(),
		ID:        id,
		Timestamp: Timestamp(time.Now()),
	})
}

func MarshalEstablished(clientID, channel, sessionID string) ([]byte, error) {
	return marshal(EstablishedMessage{
		Type:      TypeEstablished,
		ClientID:  clientID,
		Channel:   channel,
		SessionID: sessionID,
		Timestamp: Timestamp(time.Now()),
	})
}

func MarshalSuperseded(clientID string) ([]byte, error) {
	return marshal(SupersededMessage{
		Type:      TypeSuperseded,
		ClientID:  clientID,
		Reason:    command.ErrSuperseded.Error(),
		Timestamp: Timestamp(time.Now()),
	})
}

func MarshalShutdown() ([]byte, error) {
	return marshal(ShutdownMessage{Type: TypeShutdown, Timestamp: Timestamp(time.Now())})
}

// Marshal encodes any outbound message struct.
func Marshal(msg any) ([]byte, error) { return marshal(msg) }

func marshal(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &FrameError{Code: "INVALID_JSON", Message: fmt.Sprintf("failed to marshal message: %v", err)}
	}
	return data, nil
}
