package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rvald/twinctl/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, h http.HandlerFunc, method, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestAPI_Process(t *testing.T) {
	gw, err := New(GatewayConfig{})
	require.NoError(t, err)

	rec, out := doJSON(t, gw.handleProcess, http.MethodPost, `{"message":"向左旋转45度"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "left", data["direction"])
	assert.Equal(t, 45.0, data["angle"])

	rec, out = doJSON(t, gw.handleProcess, http.MethodPost, `{"instruction":"asdkjasd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])

	rec, _ = doJSON(t, gw.handleProcess, http.MethodPost, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, gw.handleProcess, http.MethodGet, ``)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_Execute(t *testing.T) {
	gw, err := New(GatewayConfig{})
	require.NoError(t, err)

	rec, out := doJSON(t, gw.handleExecute, http.MethodPost, `{"id":"e-1","operation":"zoom","parameters":{"scale":3}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "e-1", out["command_id"])

	rec, out = doJSON(t, gw.handleExecute, http.MethodPost, `{"operation":"explode"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_OPERATION", out["code"])

	rec, _ = doJSON(t, gw.handleExecute, http.MethodPost, `{"action":"zoom","params":{"scale":-1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, gw.handleExecute, http.MethodPost, `{"operation":"reset"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, out = doJSON(t, gw.handleExecute, http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MALFORMED_MESSAGE", out["code"])
}

func TestAPI_Status(t *testing.T) {
	gw, err := New(GatewayConfig{})
	require.NoError(t, err)

	rec, out := doJSON(t, gw.handleStatus, http.MethodGet, ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, out["total"])
	assert.Len(t, out["operations"], 8)
	conns := out["connections"].(map[string]any)
	assert.Len(t, conns, 4)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(command.Succeeded("", command.Params{})))
	assert.Equal(t, http.StatusBadGateway, statusFor(command.Failed(command.ErrExecutionFailed, "")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(command.Failed(assert.AnError, "")))
}
