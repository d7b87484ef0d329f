// Package dispatch resolves commands against the operation registry and
// drives them into the scene.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
	"github.com/rvald/twinctl/internal/operation"
)

// Evaluator is the direct script execution capability of the puppeted page.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	Alive(ctx context.Context) bool
}

// Broadcaster fans a message out to connected renderers.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery
}

// Observer is told about every completed dispatch.
type Observer func(cmd command.Command, res command.Result)

// Config tunes the dispatcher.
type Config struct {
	// DegradeOperations report success when no renderer could be reached.
	DegradeOperations []string
	// EvalTimeout bounds a single direct evaluation.
	EvalTimeout time.Duration
	// DefaultAngle is used by rotate when the command names none.
	DefaultAngle float64
}

// DefaultConfig matches the behaviour renderers were built against.
func DefaultConfig() Config {
	return Config{
		DegradeOperations: []string{string(command.ActionRotate), string(command.ActionZoom)},
		EvalTimeout:       10 * time.Second,
		DefaultAngle:      45,
	}
}

// Dispatcher executes commands.
type Dispatcher struct {
	ops      *operation.Registry
	eval     Evaluator
	out      Broadcaster
	cfg      Config
	degrade  map[string]bool
	observer Observer
}

// New creates a dispatcher. eval and out may be nil when the corresponding
// path is not available.
func New(ops *operation.Registry, eval Evaluator, out Broadcaster, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = def.EvalTimeout
	}
	if cfg.DefaultAngle <= 0 {
		cfg.DefaultAngle = def.DefaultAngle
	}
	if cfg.DegradeOperations == nil {
		cfg.DegradeOperations = def.DegradeOperations
	}
	d := &Dispatcher{
		ops:     ops,
		eval:    eval,
		out:     out,
		cfg:     cfg,
		degrade: make(map[string]bool),
	}
	for _, name := range cfg.DegradeOperations {
		d.degrade[string(command.ParseAction(name))] = true
	}
	return d
}

// SetObserver installs fn to be called after every Dispatch.
func (d *Dispatcher) SetObserver(fn Observer) { d.observer = fn }

// Operations returns the registered operation names.
func (d *Dispatcher) Operations() []string { return d.ops.List() }

// DirectAvailable reports whether the direct script path is usable now.
func (d *Dispatcher) DirectAvailable(ctx context.Context) bool {
	return d.eval != nil && d.eval.Alive(ctx)
}

// Dispatch resolves and runs cmd. The returned result always carries cmd's id.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) command.Result {
	cmd = cmd.WithDefaults()
	res := d.dispatch(ctx, cmd).WithCommandID(cmd.ID)

	log := slog.With("command_id", cmd.ID, "operation", cmd.Action, "method", res.Method())
	if res.Success {
		log.Info("command completed", "message", res.Message)
	} else {
		log.Warn("command failed", "error", res.Err)
	}
	if d.observer != nil {
		d.observer(cmd, res)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Command) command.Result {
	if err := cmd.Validate(); err != nil {
		return command.Failed(err, "missing operation")
	}

	h, ok := d.ops.Resolve(cmd.Action.String())
	if !ok {
		h, ok = d.ops.Resolve(command.FallbackPrefix + cmd.Action.String())
	}
	if !ok {
		err := fmt.Errorf("%s: %w", cmd.Action, command.ErrUnknownOperation)
		return command.Failed(err, fmt.Sprintf("unknown operation %q", cmd.Action))
	}

	return h(ctx, cmd)
}

// DispatchBatch runs cmds in order. The batch succeeds when any member does.
func (d *Dispatcher) DispatchBatch(ctx context.Context, cmds []command.Command) command.Result {
	if len(cmds) == 0 {
		err := fmt.Errorf("empty batch: %w", command.ErrInvalidParams)
		return command.Failed(err, "batch contains no commands")
	}

	results := make([]any, 0, len(cmds))
	succeeded := 0
	for _, c := range cmds {
		res := d.Dispatch(ctx, c)
		if res.Success {
			succeeded++
		}
		results = append(results, resultView(res))
	}

	data := command.NewParams(
		"results", results,
		"succeeded", succeeded,
		"total", len(cmds),
	)
	msg := fmt.Sprintf("%d/%d commands succeeded", succeeded, len(cmds))
	if succeeded == 0 {
		err := fmt.Errorf("all %d commands failed: %w", len(cmds), command.ErrExecutionFailed)
		res := command.Failed(err, msg)
		res.Data = data
		return res
	}
	return command.Succeeded(msg, data)
}

// resultView is the nested form of a batch member.
func resultView(res command.Result) command.Params {
	v := command.NewParams(
		"command_id", res.CommandID,
		"success", res.Success,
		"message", res.Message,
	)
	if res.Data.Len() > 0 {
		v.Set("data", res.Data)
	}
	if e := res.ErrorText(); e != "" {
		v.Set("error", e)
	}
	return v
}

type originKey struct{}

// WithOrigin marks ctx as carrying a command from clientID, so fallback
// broadcasts skip the sender.
func WithOrigin(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, originKey{}, clientID)
}

// OriginFrom returns the client id set by WithOrigin.
func OriginFrom(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}
