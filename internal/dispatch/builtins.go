package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
	"github.com/rvald/twinctl/internal/protocol"
)

// hookScript calls the scene hook the renderer page installs on window.__twin.
const hookScript = `(op, params) => {
	const scene = window.__twin;
	if (!scene || typeof scene[op] !== "function") {
		throw new Error("scene hook not installed: " + op);
	}
	const out = scene[op](params);
	return out === undefined ? true : out;
}`

// evalScript runs caller supplied code in the page's global scope.
const evalScript = `(code) => (0, eval)(code)`

const defaultHighlightColor = "#FF0000"

var errNoDirect = errors.New("direct execution not available")

type prepareFunc func(d *Dispatcher, cmd command.Command) (command.Command, error)

// RegisterBuiltins installs the scene operations, batch and the custom
// catch-all.
func (d *Dispatcher) RegisterBuiltins() {
	scene := map[command.Action]prepareFunc{
		command.ActionRotate:    prepareRotate,
		command.ActionZoom:      prepareZoom,
		command.ActionFocus:     prepareFocus,
		command.ActionReset:     prepareReset,
		command.ActionHighlight: prepareHighlight,
	}
	for _, a := range []command.Action{
		command.ActionRotate,
		command.ActionZoom,
		command.ActionFocus,
		command.ActionReset,
		command.ActionHighlight,
	} {
		d.ops.Register(a.String(), d.sceneHandler(scene[a]))
	}
	d.ops.Register(command.ActionExecuteScript.String(), d.executeScript)
	d.ops.Register(command.ActionBatch.String(), d.batch)
	d.ops.Register(command.ActionCustom.String(), d.custom)
}

func (d *Dispatcher) sceneHandler(prepare prepareFunc) func(context.Context, command.Command) command.Result {
	return func(ctx context.Context, cmd command.Command) command.Result {
		prepared, err := prepare(d, cmd)
		if err != nil {
			return command.Failed(err, "")
		}
		return d.deliver(ctx, prepared, hookScript, prepared.Action.String(), prepared.Params.Map())
	}
}

func (d *Dispatcher) executeScript(ctx context.Context, cmd command.Command) command.Result {
	code := firstString(cmd.Params, "code", "script", "js")
	if code == "" {
		err := fmt.Errorf("code is required: %w", command.ErrInvalidParams)
		return command.Failed(err, "")
	}
	cmd.Action = command.ActionExecuteScript
	params := command.NewParams("code", code)
	cmd.Params = params
	return d.deliver(ctx, cmd, evalScript, code)
}

// deliver tries the direct path, then broadcasts on the command channel,
// then applies the operation's degrade policy.
func (d *Dispatcher) deliver(ctx context.Context, cmd command.Command, script string, args ...any) command.Result {
	name := cmd.Action.String()
	data := cmd.Params.Clone()

	directErr := errNoDirect
	if d.DirectAvailable(ctx) {
		evalCtx, cancel := context.WithTimeout(ctx, d.cfg.EvalTimeout)
		value, err := d.eval.Evaluate(evalCtx, script, args...)
		cancel()
		if err == nil {
			data.Set("method", string(command.MethodDirect))
			if value != nil {
				data.Set("result", value)
			}
			return command.Succeeded(fmt.Sprintf("%s executed in page", name), data)
		}
		directErr = err
		slog.Warn("direct execution failed, falling back to broadcast", "operation", name, "command_id", cmd.ID, "error", err)
	}

	if delivered := d.broadcast(ctx, cmd); delivered > 0 {
		data.Set("method", string(command.MethodBroadcast))
		data.Set("delivered", delivered)
		return command.Succeeded(fmt.Sprintf("%s sent to %d renderer(s)", name, delivered), data)
	}

	data.Set("method", string(command.MethodNone))
	if d.degrade[name] {
		data.Set("degraded", true)
		return command.Succeeded(fmt.Sprintf("%s accepted; no renderer is connected to apply it", name), data)
	}

	var err error
	if errors.Is(directErr, errNoDirect) {
		err = fmt.Errorf("%s: %w", name, command.ErrExecutionUnavailable)
	} else {
		err = fmt.Errorf("%s: %w: %v", name, command.ErrExecutionFailed, directErr)
	}
	res := command.Failed(err, "")
	res.Data = data
	return res
}

func (d *Dispatcher) broadcast(ctx context.Context, cmd command.Command) int {
	if d.out == nil {
		return 0
	}
	msg, err := protocol.MarshalCommand(cmd)
	if err != nil {
		slog.Error("marshal broadcast command", "command_id", cmd.ID, "error", err)
		return 0
	}
	return d.out.Broadcast(ctx, msg, client.ChannelCommand, OriginFrom(ctx)).Delivered
}

// batchItem is one sub-command of a batch as it arrives on the wire. Decoding
// through command.Params keeps each sub-command's parameter order.
type batchItem struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Params     command.Params `json:"params"`
	Parameters command.Params `json:"parameters"`
}

func (b batchItem) command() command.Command {
	name := b.Operation
	if name == "" {
		name = b.Action
	}
	params := b.Params
	if params.Len() == 0 {
		params = b.Parameters
	}
	return command.Command{
		ID:     b.ID,
		Action: command.ParseAction(name),
		Params: params,
		Target: b.Target,
	}.WithDefaults()
}

func (d *Dispatcher) batch(ctx context.Context, cmd command.Command) command.Result {
	if encoded, ok := cmd.Params.Raw("commands"); ok {
		var items []batchItem
		if err := json.Unmarshal(encoded, &items); err != nil {
			err = fmt.Errorf("commands must be a list of objects: %w: %w", command.ErrInvalidParams, err)
			return command.Failed(err, "")
		}
		if items == nil {
			err := fmt.Errorf("commands must be a list: %w", command.ErrInvalidParams)
			return command.Failed(err, "")
		}
		cmds := make([]command.Command, 0, len(items))
		for _, item := range items {
			cmds = append(cmds, item.command())
		}
		return d.DispatchBatch(ctx, cmds)
	}

	raw, _ := cmd.Params.Get("commands")
	items, ok := raw.([]any)
	if !ok {
		err := fmt.Errorf("commands must be a list: %w", command.ErrInvalidParams)
		return command.Failed(err, "")
	}
	cmds := make([]command.Command, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			err := fmt.Errorf("commands[%d] must be an object: %w", i, command.ErrInvalidParams)
			return command.Failed(err, "")
		}
		cmds = append(cmds, commandFromMap(m))
	}
	return d.DispatchBatch(ctx, cmds)
}

// commandFromMap builds a sub-command from a batch assembled in code. Map
// iteration leaves its parameter order unspecified.
func commandFromMap(m map[string]any) command.Command {
	p := command.ParamsFromMap(m)
	var params command.Params
	for _, key := range []string{"params", "parameters"} {
		if v, ok := m[key].(map[string]any); ok {
			params = command.ParamsFromMap(v)
			break
		}
	}
	return command.Command{
		ID:     p.String("id"),
		Action: command.ParseAction(firstString(p, "operation", "action")),
		Params: params,
		Target: p.String("target"),
	}.WithDefaults()
}

// custom accepts loosely shaped payloads: a script under script/code/js, or
// an operation under operation/action/name/type with the remaining keys as
// its parameters.
func (d *Dispatcher) custom(ctx context.Context, cmd command.Command) command.Result {
	if code := firstString(cmd.Params, "script", "code", "js"); code != "" {
		sub := cmd
		sub.Action = command.ActionExecuteScript
		sub.Params = command.NewParams("code", code)
		return d.executeScript(ctx, sub)
	}

	opKeys := []string{"operation", "action", "name", "type"}
	name := firstString(cmd.Params, opKeys...)
	if name == "" {
		err := fmt.Errorf("custom command needs an operation or a script: %w", command.ErrInvalidParams)
		return command.Failed(err, "")
	}

	rest := cmd.Params.Clone()
	for _, k := range opKeys {
		rest.Delete(k)
	}
	if nested, ok := rest.Get("params"); ok {
		if m, ok := nested.(map[string]any); ok {
			rest = command.ParamsFromMap(m)
		}
	}
	sub := cmd
	sub.Action = command.ParseAction(name)
	sub.Params = rest

	if sub.Action != command.ActionCustom {
		if h, ok := d.ops.Resolve(sub.Action.String()); ok {
			return h(ctx, sub)
		}
	}
	return d.deliver(ctx, sub, hookScript, sub.Action.String(), sub.Params.Map())
}

func prepareRotate(d *Dispatcher, cmd command.Command) (command.Command, error) {
	p := cmd.Params.Clone()
	if p.String("direction") == "" {
		p.Set("direction", "left")
	}
	if !p.Has("angle") {
		p.Set("angle", d.cfg.DefaultAngle)
	} else if angle, ok := p.Float("angle"); ok {
		p.Set("angle", angle)
	} else {
		return cmd, fmt.Errorf("angle must be a number: %w", command.ErrInvalidParams)
	}
	cmd.Params = p
	return cmd, nil
}

func prepareZoom(d *Dispatcher, cmd command.Command) (command.Command, error) {
	p := cmd.Params.Clone()
	raw, ok := p.Get("scale")
	if nested, isMap := raw.(map[string]any); isMap {
		raw, ok = nested["scale"]
	}
	if !ok {
		return cmd, fmt.Errorf("scale is required: %w", command.ErrInvalidParams)
	}
	scale, ok := command.AsFloat(raw)
	if !ok || scale <= 0 {
		return cmd, fmt.Errorf("scale must be a positive number: %w", command.ErrInvalidParams)
	}
	p.Set("scale", scale)
	cmd.Params = p
	return cmd, nil
}

func prepareFocus(d *Dispatcher, cmd command.Command) (command.Command, error) {
	target := cmd.TargetOrParam()
	if target == "" {
		return cmd, fmt.Errorf("target is required: %w", command.ErrInvalidParams)
	}
	p := cmd.Params.Clone()
	p.Set("target", target)
	cmd.Params = p
	return cmd, nil
}

func prepareReset(d *Dispatcher, cmd command.Command) (command.Command, error) {
	return cmd, nil
}

func prepareHighlight(d *Dispatcher, cmd command.Command) (command.Command, error) {
	p := cmd.Params.Clone()
	id := p.String("component_id")
	if id == "" {
		id = cmd.Target
	}
	if id == "" {
		return cmd, fmt.Errorf("component_id is required: %w", command.ErrInvalidParams)
	}
	p.Set("component_id", id)
	if p.String("color") == "" {
		p.Set("color", defaultHighlightColor)
	}
	if p.Has("duration") {
		dur, ok := p.Float("duration")
		if !ok || dur < 0 {
			return cmd, fmt.Errorf("duration must be a non-negative number: %w", command.ErrInvalidParams)
		}
		p.Set("duration", dur)
	}
	cmd.Params = p
	return cmd, nil
}

func firstString(p command.Params, keys ...string) string {
	for _, k := range keys {
		if v := p.String(k); v != "" {
			return v
		}
	}
	return ""
}
