// Package command holds the value types that flow between the transport,
// the dispatcher and the operation handlers.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies what a Command asks the scene to do.
type Action string

const (
	ActionRotate        Action = "rotate"
	ActionZoom          Action = "zoom"
	ActionFocus         Action = "focus"
	ActionReset         Action = "reset"
	ActionHighlight     Action = "highlight"
	ActionExecuteScript Action = "execute_script"
	ActionBatch         Action = "batch"
	ActionCustom        Action = "custom"
)

// FallbackPrefix is prepended to an unregistered action name before the
// dispatcher gives up on it.
const FallbackPrefix = "execute_"

var builtin = map[Action]bool{
	ActionRotate:        true,
	ActionZoom:          true,
	ActionFocus:         true,
	ActionReset:         true,
	ActionHighlight:     true,
	ActionExecuteScript: true,
	ActionBatch:         true,
	ActionCustom:        true,
}

var aliases = map[string]Action{
	"execute_js":          ActionExecuteScript,
	"executejs":           ActionExecuteScript,
	"executescript":       ActionExecuteScript,
	"execute-script":      ActionExecuteScript,
	"run_script":          ActionExecuteScript,
	"script":              ActionExecuteScript,
	"highlight_component": ActionHighlight,
}

// ParseAction normalises a wire operation name. Unknown names are kept
// as custom actions; an empty result means no action was given.
func ParseAction(name string) Action {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	if a, ok := aliases[n]; ok {
		return a
	}
	return Action(n)
}

// IsBuiltin reports whether a is one of the operations the dispatcher ships with.
func (a Action) IsBuiltin() bool { return builtin[a] }

// IsCustom reports whether a is a non-empty action outside the built-in set.
func (a Action) IsCustom() bool { return a != "" && !builtin[a] }

func (a Action) String() string { return string(a) }

// Command is a request to manipulate the scene.
type Command struct {
	ID        string
	Action    Action
	Params    Params
	Target    string
	Timestamp time.Time
}

// New builds a command with a fresh id.
func New(action Action, params Params) Command {
	return Command{
		ID:        uuid.NewString(),
		Action:    action,
		Params:    params,
		Timestamp: time.Now(),
	}
}

// WithDefaults fills the id and timestamp when the sender left them out.
func (c Command) WithDefaults() Command {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	return c
}

// Validate rejects commands that cannot be executed at all.
func (c Command) Validate() error {
	if c.Action == "" {
		return fmt.Errorf("missing operation: %w", ErrMalformedMessage)
	}
	return nil
}

// TargetOrParam returns the command target, falling back to the "target"
// parameter.
func (c Command) TargetOrParam() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Params.String("target")
}
