package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rvald/twinctl/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalResponse(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		res := command.Succeeded("rotated", command.NewParams("direction", "left", "method", "direct")).WithCommandID("c1")
		data, err := MarshalResponse(res)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "mcp.response", raw["type"])
		assert.Equal(t, "c1", raw["command_id"])
		assert.Equal(t, "success", raw["status"])
		assert.Equal(t, "rotated", raw["message"])
		assert.NotEmpty(t, raw["timestamp"])
		assert.Nil(t, raw["error"])
		d := raw["data"].(map[string]any)
		assert.Equal(t, "direct", d["method"])
	})

	t.Run("failure carries error and code", func(t *testing.T) {
		res := command.Failed(fmt.Errorf("explode: %w", command.ErrUnknownOperation), "").WithCommandID("c2")
		data, err := MarshalResponse(res)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "error", raw["status"])
		assert.Equal(t, "explode: unknown operation", raw["error"])
		assert.Equal(t, "UNKNOWN_OPERATION", raw["code"])
		assert.Equal(t, map[string]any{}, raw["data"])
	})

	t.Run("missing command id", func(t *testing.T) {
		_, err := MarshalResponse(command.Succeeded("x", command.Params{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "field=command_id")
	})
}

func TestMarshalCommand(t *testing.T) {
	cmd := command.Command{
		ID:        "c9",
		Action:    command.ActionZoom,
		Params:    command.NewParams("scale", 2.0),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := MarshalCommand(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mcp.command","command_id":"c9","operation":"zoom","params":{"scale":2},"timestamp":"2026-01-02T03:04:05Z"}`, string(data))

	_, err = MarshalCommand(command.Command{Action: command.ActionZoom})
	assert.Error(t, err)
	_, err = MarshalCommand(command.Command{ID: "x"})
	assert.Error(t, err)
}

func TestMarshalPong(t *testing.T) {
	data, err := MarshalPong(&PingMessage{ID: "p1", Token: "tok"})
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "pong", raw["type"])
	assert.Equal(t, "p1", raw["id"])
	assert.Equal(t, "tok", raw["token"])
}

func TestMarshalError(t *testing.T) {
	_, perr := ParseMessage([]byte(`{"type":"teleport"}`))
	data, err := MarshalError("", perr)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "error", raw["type"])
	assert.Equal(t, "UNKNOWN_TYPE", raw["code"])

	_, perr = ParseMessage([]byte(`{not json`))
	data, err = MarshalError("", perr)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "MALFORMED_MESSAGE", raw["code"])

	data, err = MarshalError("c1", errors.New("boom"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "INTERNAL", raw["code"])
	assert.Equal(t, "c1", raw["id"])
}

func TestMarshalNotices(t *testing.T) {
	data, err := MarshalSuperseded("mcp_s1")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"session.superseded"`)
	assert.Contains(t, string(data), `"clientId":"mcp_s1"`)

	data, err = MarshalEstablished("ws_s1", "general", "s1")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"connection_established"`)

	data, err = MarshalShutdown()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"shutdown"`)
}
