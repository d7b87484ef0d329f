package discord

import (
	"context"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
)

// Dispatcher executes scene commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) command.Result
}

// Translator turns free text into a command.
type Translator interface {
	Translate(text string) (command.Action, command.Params)
}

// ClientLister exposes the connected clients. Optional.
type ClientLister interface {
	Snapshot(ch client.Channel) []client.Info
}
