// Package mcpserver exposes scene operations as Model Context Protocol tools
// so AI agents can drive the scene.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rvald/twinctl/internal/command"
	"github.com/rvald/twinctl/internal/protocol"
)

// Dispatcher executes commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) command.Result
}

// Translator maps an instruction to an operation.
type Translator interface {
	Translate(text string) (command.Action, command.Params)
}

type RotateInput struct {
	Direction string  `json:"direction,omitempty" jsonschema:"rotation direction: left, right, up or down (default left)"`
	Angle     float64 `json:"angle,omitempty" jsonschema:"rotation angle in degrees"`
}

type ZoomInput struct {
	Scale float64 `json:"scale" jsonschema:"zoom factor; values below 1 zoom out"`
}

type FocusInput struct {
	Target string `json:"target" jsonschema:"area or component to focus, e.g. area3 or center"`
}

type ResetInput struct{}

type HighlightInput struct {
	ComponentID string  `json:"component_id" jsonschema:"component to highlight"`
	Color       string  `json:"color,omitempty" jsonschema:"highlight color (default #FF0000)"`
	Duration    float64 `json:"duration,omitempty" jsonschema:"highlight duration in milliseconds"`
}

type ScriptInput struct {
	Code string `json:"code" jsonschema:"JavaScript to run in the renderer page"`
}

type InstructionInput struct {
	Instruction string `json:"instruction" jsonschema:"natural language instruction in English or Chinese, e.g. rotate left 45 degrees"`
}

// New builds the MCP server with the scene tools registered.
func New(d Dispatcher, tr Translator, version string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "twinctl", Version: version}, nil)
	t := &tools{d: d, tr: tr}

	mcp.AddTool(s, &mcp.Tool{Name: "rotate_model", Description: "Rotate the 3D model"}, t.rotate)
	mcp.AddTool(s, &mcp.Tool{Name: "zoom_model", Description: "Zoom the camera in or out"}, t.zoom)
	mcp.AddTool(s, &mcp.Tool{Name: "focus_model", Description: "Move the camera to an area or component"}, t.focus)
	mcp.AddTool(s, &mcp.Tool{Name: "reset_model", Description: "Restore the default view"}, t.reset)
	mcp.AddTool(s, &mcp.Tool{Name: "highlight_component", Description: "Highlight a component of the model"}, t.highlight)
	mcp.AddTool(s, &mcp.Tool{Name: "execute_script", Description: "Run JavaScript in the renderer page"}, t.script)
	mcp.AddTool(s, &mcp.Tool{Name: "scene_instruction", Description: "Translate a natural language instruction and execute it"}, t.instruction)
	return s
}

// HTTPHandler serves s over the streamable HTTP transport.
func HTTPHandler(s *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

// ServeStdio runs s on stdin/stdout until ctx is cancelled or the client
// disconnects.
func ServeStdio(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

type tools struct {
	d  Dispatcher
	tr Translator
}

func (t *tools) rotate(ctx context.Context, _ *mcp.CallToolRequest, in RotateInput) (*mcp.CallToolResult, any, error) {
	p := command.NewParams()
	if in.Direction != "" {
		p.Set("direction", in.Direction)
	}
	if in.Angle != 0 {
		p.Set("angle", in.Angle)
	}
	return t.run(ctx, command.New(command.ActionRotate, p))
}

func (t *tools) zoom(ctx context.Context, _ *mcp.CallToolRequest, in ZoomInput) (*mcp.CallToolResult, any, error) {
	return t.run(ctx, command.New(command.ActionZoom, command.NewParams("scale", in.Scale)))
}

func (t *tools) focus(ctx context.Context, _ *mcp.CallToolRequest, in FocusInput) (*mcp.CallToolResult, any, error) {
	return t.run(ctx, command.New(command.ActionFocus, command.NewParams("target", in.Target)))
}

func (t *tools) reset(ctx context.Context, _ *mcp.CallToolRequest, _ ResetInput) (*mcp.CallToolResult, any, error) {
	return t.run(ctx, command.New(command.ActionReset, command.Params{}))
}

func (t *tools) highlight(ctx context.Context, _ *mcp.CallToolRequest, in HighlightInput) (*mcp.CallToolResult, any, error) {
	p := command.NewParams("component_id", in.ComponentID)
	if in.Color != "" {
		p.Set("color", in.Color)
	}
	if in.Duration != 0 {
		p.Set("duration", in.Duration)
	}
	return t.run(ctx, command.New(command.ActionHighlight, p))
}

func (t *tools) script(ctx context.Context, _ *mcp.CallToolRequest, in ScriptInput) (*mcp.CallToolResult, any, error) {
	return t.run(ctx, command.New(command.ActionExecuteScript, command.NewParams("code", in.Code)))
}

func (t *tools) instruction(ctx context.Context, _ *mcp.CallToolRequest, in InstructionInput) (*mcp.CallToolResult, any, error) {
	action, params := t.tr.Translate(in.Instruction)
	if action == "" {
		return textResult(fmt.Sprintf("could not understand instruction %q", in.Instruction), true), nil, nil
	}
	return t.run(ctx, command.New(action, params))
}

func (t *tools) run(ctx context.Context, cmd command.Command) (*mcp.CallToolResult, any, error) {
	res := t.d.Dispatch(ctx, cmd)
	body, err := protocol.MarshalResponse(res)
	if err != nil {
		slog.Error("encode tool result", "command_id", res.CommandID, "error", err)
		return textResult(res.Message, !res.Success), nil, nil
	}
	return textResult(string(body), !res.Success), nil, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
