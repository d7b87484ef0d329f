package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"translate", "rotate", "right", "90", "degrees"})
	require.NoError(t, rootCmd.Execute())

	var got struct {
		Operation string         `json:"operation"`
		Params    map[string]any `json:"params"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "rotate", got.Operation)
	assert.Equal(t, "right", got.Params["direction"])
	assert.Equal(t, 90.0, got.Params["angle"])
}

func TestExecCommand(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"mcp.response","success":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"exec", "zoom", "--gateway", srv.URL, "--params", `{"scale":2}`})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "zoom", body["operation"])
	assert.Equal(t, map[string]any{"scale": 2.0}, body["parameters"])
	assert.Contains(t, out.String(), `"success": true`)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twinctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n  bind: lan\n"), 0o600))

	cmd := serverCmd
	require.NoError(t, cmd.Flags().Set("port", "9200"))
	t.Cleanup(func() {
		cfgFile = ""
		cmd.Flags().Lookup("port").Changed = false
	})
	cfgFile = path

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port, "explicit flag wins")
	assert.Equal(t, "lan", cfg.Server.Bind, "file value kept when the flag is untouched")
}
