package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
)

// CommandResponse is the result returned by command handlers.
type CommandResponse struct {
	OK      bool
	Message string
}

// CommandRouter dispatches slash commands to the appropriate handler.
type CommandRouter struct {
	dispatcher Dispatcher
	translator Translator
	clients    ClientLister // optional
}

// NewCommandRouter creates a router backed by the given dispatcher and translator.
func NewCommandRouter(d Dispatcher, tr Translator) *CommandRouter {
	return &CommandRouter{dispatcher: d, translator: tr}
}

// WithClients enables the /clients command.
func (r *CommandRouter) WithClients(c ClientLister) {
	r.clients = c
}

// Commands returns the slash command definitions for Discord registration.
func (r *CommandRouter) Commands() []SlashCommand {
	minScale := 0.1
	cmds := []SlashCommand{
		{
			Name:        "scene",
			Description: "Send a plain-language instruction to the scene",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "instruction", Description: "e.g. \"rotate left 90 degrees\" or \"放大\"", Required: true},
			},
		},
		{
			Name:        "rotate",
			Description: "Rotate the model",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "direction", Description: "Rotation direction",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Left", Value: "left"},
						{Name: "Right", Value: "right"},
						{Name: "Up", Value: "up"},
						{Name: "Down", Value: "down"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionNumber, Name: "angle", Description: "Angle in degrees"},
			},
		},
		{
			Name:        "zoom",
			Description: "Zoom the camera",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionNumber, Name: "scale", Description: "Zoom factor, >1 zooms in", Required: true, MinValue: &minScale},
			},
		},
		{
			Name:        "focus",
			Description: "Focus the camera on an area",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "target", Description: "Area or component id", Required: true},
			},
		},
		{
			Name:        "reset",
			Description: "Reset the camera to its default view",
		},
	}

	if r.clients != nil {
		cmds = append(cmds, SlashCommand{
			Name:        "clients",
			Description: "List connected scene clients",
		})
	}
	return cmds
}

// HandleScene translates a free-text instruction and dispatches it.
func (r *CommandRouter) HandleScene(ctx context.Context, instruction string) CommandResponse {
	if strings.TrimSpace(instruction) == "" {
		return CommandResponse{OK: false, Message: "❓ Instruction is empty"}
	}
	action, params := r.translator.Translate(instruction)
	if action == "" {
		return CommandResponse{OK: false, Message: fmt.Sprintf("❓ Could not understand %q", instruction)}
	}
	return r.run(ctx, command.New(action, params))
}

// HandleRotate rotates the model. Empty direction and zero angle fall back
// to the dispatcher defaults.
func (r *CommandRouter) HandleRotate(ctx context.Context, direction string, angle float64) CommandResponse {
	params := command.NewParams()
	if direction != "" {
		params.Set("direction", direction)
	}
	if angle != 0 {
		params.Set("angle", angle)
	}
	return r.run(ctx, command.New(command.ActionRotate, params))
}

// HandleZoom zooms the camera by scale.
func (r *CommandRouter) HandleZoom(ctx context.Context, scale float64) CommandResponse {
	return r.run(ctx, command.New(command.ActionZoom, command.NewParams("scale", scale)))
}

// HandleFocus focuses the camera on target.
func (r *CommandRouter) HandleFocus(ctx context.Context, target string) CommandResponse {
	cmd := command.New(command.ActionFocus, command.NewParams("target", target))
	cmd.Target = target
	return r.run(ctx, cmd)
}

// HandleReset restores the default view.
func (r *CommandRouter) HandleReset(ctx context.Context) CommandResponse {
	return r.run(ctx, command.New(command.ActionReset, command.NewParams()))
}

// HandleClients lists all connected clients.
func (r *CommandRouter) HandleClients() CommandResponse {
	if r.clients == nil {
		return CommandResponse{OK: false, Message: "Client listing is not enabled"}
	}
	infos := r.clients.Snapshot("")
	if len(infos) == 0 {
		return CommandResponse{OK: true, Message: "🖥️ No clients connected"}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🖥️ **%d client(s) connected:**\n", len(infos)))
	for _, c := range infos {
		sb.WriteString(fmt.Sprintf("• **%s** (%s) - idle %s\n",
			c.ClientID, c.Channel, time.Since(c.LastActivity).Truncate(time.Second)))
	}
	return CommandResponse{OK: true, Message: sb.String()}
}

func (r *CommandRouter) run(ctx context.Context, cmd command.Command) CommandResponse {
	res := r.dispatcher.Dispatch(ctx, cmd)
	if !res.Success {
		return CommandResponse{OK: false, Message: fmt.Sprintf("❌ %s failed: %s", cmd.Action, res.Message)}
	}
	msg := fmt.Sprintf("✅ %s", res.Message)
	if m := res.Method(); m != command.MethodNone {
		msg += fmt.Sprintf(" (%s)", m)
	}
	return CommandResponse{OK: true, Message: msg}
}

var _ ClientLister = (*client.Registry)(nil)
