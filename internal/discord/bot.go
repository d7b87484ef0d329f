package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// interactionTimeout bounds the dispatch behind a single slash command.
const interactionTimeout = 30 * time.Second

// BotConfig holds the configuration for the Discord bot.
type BotConfig struct {
	Token string
	// GuildID scopes the slash commands to one server. Empty registers
	// them globally, which Discord can take up to an hour to propagate.
	GuildID string
}

// Bot exposes the scene commands as Discord slash commands.
type Bot struct {
	config     BotConfig
	session    *discordgo.Session
	router     *CommandRouter
	commands   []SlashCommand
	registered []*discordgo.ApplicationCommand
	removeFn   func()
}

// NewBot validates config and creates a new Bot.
func NewBot(config BotConfig) (*Bot, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	return &Bot{config: config}, nil
}

// SetRouter sets the command router for handling slash commands.
func (b *Bot) SetRouter(router *CommandRouter) {
	b.router = router
}

// RegisterCommands stores commands for registration on Start.
func (b *Bot) RegisterCommands(cmds []SlashCommand) {
	b.commands = cmds
}

// Start opens the gateway session and replaces the application's slash
// commands with the stored set, so commands dropped between releases
// disappear from the client.
func (b *Bot) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + b.config.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	b.removeFn = session.AddHandler(b.handleInteraction)

	if err := session.Open(); err != nil {
		b.removeFn()
		return fmt.Errorf("discord open: %w", err)
	}
	b.session = session
	slog.Info("discord connected", "user", session.State.User.Username, "guild", b.config.GuildID)

	if len(b.commands) == 0 {
		return nil
	}
	created, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, b.config.GuildID,
		toApplicationCommands(b.commands), discordgo.WithContext(ctx))
	if err != nil {
		// The session stays usable for commands registered by a previous run.
		slog.Warn("discord command registration failed", "error", err)
		return nil
	}
	b.registered = created
	slog.Debug("discord commands registered", "count", len(created))
	return nil
}

// Stop removes guild-scoped commands and closes the session. Global
// commands are left in place.
func (b *Bot) Stop() error {
	if b.session == nil {
		return nil
	}
	if b.config.GuildID != "" {
		for _, cmd := range b.registered {
			if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.config.GuildID, cmd.ID); err != nil {
				slog.Debug("discord command cleanup failed", "command", cmd.Name, "error", err)
			}
		}
	}
	b.registered = nil
	if b.removeFn != nil {
		b.removeFn()
	}
	return b.session.Close()
}

// handleInteraction routes InteractionCreate events to CommandRouter handlers.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if b.router == nil {
		return
	}

	data := i.ApplicationCommandData()
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	// Defer immediately to avoid Discord's 3s interaction timeout.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("discord defer failed", "error", err)
	}

	resp := b.route(ctx, data)

	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: resp.Message,
	}); err != nil {
		slog.Warn("discord follow-up failed", "command", data.Name, "error", err)
	}
}

func (b *Bot) route(ctx context.Context, data discordgo.ApplicationCommandInteractionData) CommandResponse {
	strOpt := func(name string) string {
		for _, opt := range data.Options {
			if opt.Name == name {
				return opt.StringValue()
			}
		}
		return ""
	}
	floatOpt := func(name string, def float64) float64 {
		for _, opt := range data.Options {
			if opt.Name == name {
				return opt.FloatValue()
			}
		}
		return def
	}

	switch data.Name {
	case "scene":
		return b.router.HandleScene(ctx, strOpt("instruction"))
	case "rotate":
		return b.router.HandleRotate(ctx, strOpt("direction"), floatOpt("angle", 0))
	case "zoom":
		return b.router.HandleZoom(ctx, floatOpt("scale", 1))
	case "focus":
		return b.router.HandleFocus(ctx, strOpt("target"))
	case "reset":
		return b.router.HandleReset(ctx)
	case "clients":
		return b.router.HandleClients()
	default:
		return CommandResponse{Message: fmt.Sprintf("Unknown command: %s", data.Name)}
	}
}

// SlashCommand defines a Discord slash command with options.
type SlashCommand struct {
	Name        string
	Description string
	Options     []*discordgo.ApplicationCommandOption
}

// toApplicationCommands converts SlashCommands to discordgo format.
func toApplicationCommands(cmds []SlashCommand) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, len(cmds))
	for i, cmd := range cmds {
		out[i] = &discordgo.ApplicationCommand{
			Name:        cmd.Name,
			Description: cmd.Description,
			Options:     cmd.Options,
		}
	}
	return out
}
