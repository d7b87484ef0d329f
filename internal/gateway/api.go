package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
	"github.com/rvald/twinctl/internal/protocol"
)

const maxAPIBody = 1 << 20

// ProcessRequest is the body of POST /api/llm/process.
type ProcessRequest struct {
	Message     string `json:"message"`
	Instruction string `json:"instruction"`
}

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Parameters command.Params `json:"parameters"`
	Params     command.Params `json:"params"`
}

// StatusResponse is the body of GET /api/websocket/status.
type StatusResponse struct {
	Connections map[string]int `json:"connections"`
	Total       int            `json:"total"`
	Clients     []client.Info  `json:"clients"`
	Operations  []string       `json:"operations"`
	Direct      bool           `json:"direct"`
	Uptime      string         `json:"uptime"`
	Timestamp   string         `json:"timestamp"`
}

func (gw *Gateway) registerAPI() {
	gw.server.Handle("/api/llm/process", http.HandlerFunc(gw.handleProcess))
	gw.server.Handle("/api/execute", http.HandlerFunc(gw.handleExecute))
	gw.server.Handle("/api/websocket/status", http.HandlerFunc(gw.handleStatus))
}

func (gw *Gateway) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := req.Message
	if text == "" {
		text = req.Instruction
	}
	action, params := gw.translator.Translate(text)
	if action == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("could not understand instruction %q", text))
		return
	}
	res := gw.dispatcher.Dispatch(r.Context(), command.New(action, params))
	writeResult(w, res)
}

func (gw *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := req.Parameters
	if params.Len() == 0 {
		params = req.Params
	}
	name := req.Operation
	if name == "" {
		name = req.Action
	}
	cmd := command.Command{
		ID:     req.ID,
		Action: command.ParseAction(name),
		Params: params,
		Target: req.Target,
	}
	res := gw.dispatcher.Dispatch(r.Context(), cmd)
	writeResult(w, res)
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := gw.statusMessage("")
	writeJSON(w, http.StatusOK, StatusResponse{
		Connections: status.Connections,
		Total:       status.Total,
		Clients:     gw.clients.Snapshot(""),
		Operations:  status.Operations,
		Direct:      gw.dispatcher.DirectAvailable(r.Context()),
		Uptime:      time.Since(gw.started).Truncate(time.Second).String(),
		Timestamp:   protocol.Timestamp(time.Now()),
	})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAPIBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusFor maps a failed result to an HTTP status.
func statusFor(res command.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err, command.ErrMalformedMessage), errors.Is(res.Err, command.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(res.Err, command.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(res.Err, command.ErrExecutionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(res.Err, command.ErrExecutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res command.Result) {
	writeJSON(w, statusFor(res), protocol.NewResponse(res))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
