package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
	"github.com/rvald/twinctl/internal/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	alive   bool
	err     error
	value   any
	scripts []string
	args    [][]any
	mu      sync.Mutex
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	f.args = append(f.args, args)
	return f.value, f.err
}

func (f *fakeEvaluator) Alive(ctx context.Context) bool { return f.alive }

func (f *fakeEvaluator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scripts)
}

type sent struct {
	msg     map[string]any
	channel client.Channel
	exclude string
}

type fakeBroadcaster struct {
	recipients int
	sent       []sent
	mu         sync.Mutex
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(msg, &m)
	f.sent = append(f.sent, sent{msg: m, channel: ch, exclude: exclude})
	return client.Delivery{Delivered: f.recipients}
}

func newTestDispatcher(eval Evaluator, out Broadcaster) *Dispatcher {
	d := New(operation.NewRegistry(), eval, out, Config{})
	d.RegisterBuiltins()
	return d
}

func cmdOf(action command.Action, kv ...any) command.Command {
	c := command.New(action, command.NewParams(kv...))
	return c
}

func TestDispatch_RegistersBuiltins(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	assert.Equal(t, []string{"rotate", "zoom", "focus", "reset", "highlight", "execute_script", "batch", "custom"}, d.Operations())
}

func TestDispatch_CorrelatesCommandID(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 1})
	for _, a := range []command.Action{command.ActionRotate, command.ActionReset, command.Action("explode"), ""} {
		c := cmdOf(a)
		c.ID = "cmd-" + string(a)
		res := d.Dispatch(context.Background(), c)
		assert.Equal(t, c.ID, res.CommandID, "action %q", a)
	}
}

func TestDispatch_MissingAction(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res := d.Dispatch(context.Background(), command.Command{ID: "x"})
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, command.ErrMalformedMessage))
	assert.Equal(t, "missing operation", res.Message)
}

func TestDispatch_UnknownOperation(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 3})
	res := d.Dispatch(context.Background(), cmdOf("explode"))
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, command.ErrUnknownOperation))
	assert.Contains(t, res.Message, "explode")
}

func TestDispatch_FallbackName(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	d.ops.Register("execute_explode", func(ctx context.Context, c command.Command) command.Result {
		return command.Succeeded("boom", command.Params{})
	})
	res := d.Dispatch(context.Background(), cmdOf("explode"))
	assert.True(t, res.Success)
	assert.Equal(t, "boom", res.Message)
}

func TestDispatch_DirectFirst(t *testing.T) {
	eval := &fakeEvaluator{alive: true, value: "ok"}
	out := &fakeBroadcaster{recipients: 2}
	d := newTestDispatcher(eval, out)

	res := d.Dispatch(context.Background(), cmdOf(command.ActionRotate, "direction", "right", "angle", 90.0))
	require.True(t, res.Success)
	assert.Equal(t, command.MethodDirect, res.Method())
	assert.Equal(t, "ok", res.Data.String("result"))
	assert.Equal(t, 1, eval.calls())
	assert.Empty(t, out.sent, "direct success must not broadcast")

	require.Len(t, eval.args, 1)
	assert.Equal(t, "rotate", eval.args[0][0])
	assert.Equal(t, map[string]any{"direction": "right", "angle": 90.0}, eval.args[0][1])
}

func TestDispatch_BroadcastFallback(t *testing.T) {
	eval := &fakeEvaluator{alive: true, err: errors.New("hook missing")}
	out := &fakeBroadcaster{recipients: 2}
	d := newTestDispatcher(eval, out)

	c := cmdOf(command.ActionZoom, "scale", 2.0)
	res := d.Dispatch(WithOrigin(context.Background(), "mcp_origin"), c)
	require.True(t, res.Success)
	assert.Equal(t, command.MethodBroadcast, res.Method())
	delivered, _ := res.Data.Float("delivered")
	assert.Equal(t, 2.0, delivered)

	require.Len(t, out.sent, 1)
	s := out.sent[0]
	assert.Equal(t, client.ChannelCommand, s.channel)
	assert.Equal(t, "mcp_origin", s.exclude)
	assert.Equal(t, "mcp.command", s.msg["type"])
	assert.Equal(t, "zoom", s.msg["operation"])
	assert.Equal(t, c.ID, s.msg["command_id"])
	assert.Equal(t, map[string]any{"scale": 2.0}, s.msg["params"])
}

func TestDispatch_DeadEvaluatorSkipsDirect(t *testing.T) {
	eval := &fakeEvaluator{alive: false}
	out := &fakeBroadcaster{recipients: 1}
	d := newTestDispatcher(eval, out)
	res := d.Dispatch(context.Background(), cmdOf(command.ActionReset))
	assert.True(t, res.Success)
	assert.Equal(t, 0, eval.calls())
	assert.Equal(t, command.MethodBroadcast, res.Method())
}

func TestDispatch_DegradedSuccess(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 0})

	res := d.Dispatch(context.Background(), cmdOf(command.ActionRotate))
	assert.True(t, res.Success)
	assert.Equal(t, command.MethodNone, res.Method())
	assert.Contains(t, res.Message, "no renderer")
	assert.Equal(t, "left", res.Data.String("direction"))
	angle, _ := res.Data.Float("angle")
	assert.Equal(t, 45.0, angle)

	res = d.Dispatch(context.Background(), cmdOf(command.ActionZoom, "scale", 0.5))
	assert.True(t, res.Success)
}

func TestDispatch_NonDegradingFailures(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 0})
	tests := []command.Command{
		cmdOf(command.ActionFocus, "target", "area1"),
		cmdOf(command.ActionReset),
		cmdOf(command.ActionHighlight, "component_id", "wheel"),
		cmdOf(command.ActionExecuteScript, "code", "1+1"),
	}
	for _, c := range tests {
		res := d.Dispatch(context.Background(), c)
		assert.False(t, res.Success, "action %s", c.Action)
		assert.True(t, errors.Is(res.Err, command.ErrExecutionUnavailable), "action %s", c.Action)
	}
}

func TestDispatch_DirectFailureWithoutRecipients(t *testing.T) {
	eval := &fakeEvaluator{alive: true, err: errors.New("ReferenceError")}
	d := newTestDispatcher(eval, &fakeBroadcaster{})
	res := d.Dispatch(context.Background(), cmdOf(command.ActionExecuteScript, "code", "nope()"))
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, command.ErrExecutionFailed))
	assert.Contains(t, res.ErrorText(), "ReferenceError")
}

func TestDispatch_DegradePolicyIsConfigurable(t *testing.T) {
	d := New(operation.NewRegistry(), nil, nil, Config{DegradeOperations: []string{"focus"}})
	d.RegisterBuiltins()

	assert.False(t, d.Dispatch(context.Background(), cmdOf(command.ActionRotate)).Success)
	assert.True(t, d.Dispatch(context.Background(), cmdOf(command.ActionFocus, "target", "center")).Success)
}

func TestDispatch_ParameterValidation(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 1})
	tests := []struct {
		name string
		cmd  command.Command
	}{
		{"zoom without scale", cmdOf(command.ActionZoom)},
		{"zoom non-positive", cmdOf(command.ActionZoom, "scale", 0.0)},
		{"zoom not a number", cmdOf(command.ActionZoom, "scale", "big")},
		{"focus without target", cmdOf(command.ActionFocus)},
		{"highlight without component", cmdOf(command.ActionHighlight)},
		{"highlight negative duration", cmdOf(command.ActionHighlight, "component_id", "x", "duration", -1.0)},
		{"execute without code", cmdOf(command.ActionExecuteScript)},
		{"rotate bad angle", cmdOf(command.ActionRotate, "angle", "steep")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), tt.cmd)
			assert.False(t, res.Success)
			assert.True(t, errors.Is(res.Err, command.ErrInvalidParams))
		})
	}
}

func TestDispatch_ParameterDefaults(t *testing.T) {
	out := &fakeBroadcaster{recipients: 1}
	d := newTestDispatcher(nil, out)

	res := d.Dispatch(context.Background(), cmdOf(command.ActionZoom, "scale", map[string]any{"scale": 3.0}))
	require.True(t, res.Success)
	scale, _ := res.Data.Float("scale")
	assert.Equal(t, 3.0, scale)

	c := cmdOf(command.ActionHighlight)
	c.Target = "engine"
	res = d.Dispatch(context.Background(), c)
	require.True(t, res.Success)
	assert.Equal(t, "engine", res.Data.String("component_id"))
	assert.Equal(t, "#FF0000", res.Data.String("color"))

	c = cmdOf(command.ActionFocus)
	c.Target = "area2"
	res = d.Dispatch(context.Background(), c)
	require.True(t, res.Success)
	assert.Equal(t, "area2", res.Data.String("target"))
}

func TestDispatchBatch_OrAggregation(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 0})
	res := d.DispatchBatch(context.Background(), []command.Command{
		cmdOf(command.ActionRotate),
		cmdOf(command.ActionFocus, "target", "area1"),
		cmdOf("explode"),
	})
	assert.True(t, res.Success)
	assert.Equal(t, "1/3 commands succeeded", res.Message)

	raw, ok := res.Data.Get("results")
	require.True(t, ok)
	results := raw.([]any)
	require.Len(t, results, 3)
	assert.Equal(t, true, results[0].(command.Params).Map()["success"])
	assert.Equal(t, false, results[2].(command.Params).Map()["success"])
}

func TestDispatchBatch_AllFail(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res := d.DispatchBatch(context.Background(), []command.Command{cmdOf("explode"), cmdOf(command.ActionReset)})
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, command.ErrExecutionFailed))

	res = d.DispatchBatch(context.Background(), nil)
	assert.False(t, res.Success)
}

func TestDispatch_BatchOperation(t *testing.T) {
	out := &fakeBroadcaster{recipients: 1}
	d := newTestDispatcher(nil, out)
	c := cmdOf(command.ActionBatch, "commands", []any{
		map[string]any{"operation": "rotate", "params": map[string]any{"direction": "up"}},
		map[string]any{"action": "reset"},
	})
	res := d.Dispatch(context.Background(), c)
	require.True(t, res.Success)
	assert.Equal(t, c.ID, res.CommandID)
	assert.Len(t, out.sent, 2)
	assert.Equal(t, "up", out.sent[0].msg["params"].(map[string]any)["direction"])

	res = d.Dispatch(context.Background(), cmdOf(command.ActionBatch, "commands", "nope"))
	assert.False(t, res.Success)
}

func TestDispatch_BatchKeepsDecodedParamOrder(t *testing.T) {
	d := newTestDispatcher(nil, &fakeBroadcaster{recipients: 1})
	var keys [][]string
	d.ops.Register("annotate", func(ctx context.Context, c command.Command) command.Result {
		keys = append(keys, c.Params.Keys())
		return command.Succeeded("annotated", command.Params{})
	})

	var params command.Params
	require.NoError(t, json.Unmarshal([]byte(`{"commands": [
		{"operation": "annotate", "params": {"zeta": 1, "alpha": 2, "mid": 3, "beta": 4}},
		{"action": "annotate", "parameters": {"y": true, "x": false, "w": null}}
	]}`), &params))

	res := d.Dispatch(context.Background(), command.New(command.ActionBatch, params))
	require.True(t, res.Success)
	assert.Equal(t, "2/2 commands succeeded", res.Message)
	assert.Equal(t, [][]string{{"zeta", "alpha", "mid", "beta"}, {"y", "x", "w"}}, keys)

	require.NoError(t, json.Unmarshal([]byte(`{"commands": [1, 2]}`), &params))
	res = d.Dispatch(context.Background(), command.New(command.ActionBatch, params))
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, command.ErrInvalidParams))

	require.NoError(t, json.Unmarshal([]byte(`{"commands": null}`), &params))
	res = d.Dispatch(context.Background(), command.New(command.ActionBatch, params))
	assert.False(t, res.Success)
}

func TestDispatch_Custom(t *testing.T) {
	t.Run("script payload runs as execute_script", func(t *testing.T) {
		eval := &fakeEvaluator{alive: true, value: 2.0}
		d := newTestDispatcher(eval, nil)
		res := d.Dispatch(context.Background(), cmdOf(command.ActionCustom, "js", "1+1"))
		require.True(t, res.Success)
		require.Len(t, eval.args, 1)
		assert.Equal(t, "1+1", eval.args[0][0])
	})

	t.Run("named builtin is routed", func(t *testing.T) {
		out := &fakeBroadcaster{recipients: 1}
		d := newTestDispatcher(nil, out)
		res := d.Dispatch(context.Background(), cmdOf(command.ActionCustom, "type", "zoom", "scale", 2.0))
		require.True(t, res.Success)
		require.Len(t, out.sent, 1)
		assert.Equal(t, "zoom", out.sent[0].msg["operation"])
		assert.Equal(t, map[string]any{"scale": 2.0}, out.sent[0].msg["params"])
	})

	t.Run("unknown name is broadcast", func(t *testing.T) {
		out := &fakeBroadcaster{recipients: 1}
		d := newTestDispatcher(nil, out)
		res := d.Dispatch(context.Background(), cmdOf(command.ActionCustom, "name", "explode", "params", map[string]any{"force": 3.0}))
		require.True(t, res.Success)
		assert.Equal(t, "explode", out.sent[0].msg["operation"])
		assert.Equal(t, map[string]any{"force": 3.0}, out.sent[0].msg["params"])
	})

	t.Run("empty payload", func(t *testing.T) {
		d := newTestDispatcher(nil, nil)
		res := d.Dispatch(context.Background(), cmdOf(command.ActionCustom))
		assert.False(t, res.Success)
		assert.True(t, errors.Is(res.Err, command.ErrInvalidParams))
	})
}

func TestDispatch_Observer(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	var seen []string
	d.SetObserver(func(c command.Command, res command.Result) { seen = append(seen, c.Action.String()) })
	d.Dispatch(context.Background(), cmdOf(command.ActionRotate))
	d.Dispatch(context.Background(), cmdOf(command.ActionZoom, "scale", 2.0))
	assert.Equal(t, []string{"rotate", "zoom"}, seen)
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "", OriginFrom(context.Background()))
	assert.Equal(t, "ws_1", OriginFrom(WithOrigin(context.Background(), "ws_1")))
}
