package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ExecuteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(req.Parameters)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`
tools:
  - name: echo
    server: s1
    category: utility
    parameters:
      text: {type: string, required: true}
  - name: noop
    server: local
`), 0o600))

	cfg := filepath.Join(dir, "toolmesh.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
log:
  level: error
catalog: `+catalog+`
servers:
  s1:
    endpoint: ws`+strings.TrimPrefix(serverURL, "http")+`
  local:
    endpoint: builtin://local
  ghost: {}
`), 0o600))
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestToolsCommand(t *testing.T) {
	cfg := writeConfig(t, newToolServer(t).URL)

	out, err := run(t, "tools", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "text:string*")
	assert.Contains(t, out, "utility")
	assert.Contains(t, out, "noop")
}

func TestExecCommand(t *testing.T) {
	cfg := writeConfig(t, newToolServer(t).URL)

	out, err := run(t, "exec", "echo", "text=hi", "--config", cfg)
	require.NoError(t, err)

	var res protocol.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Contains(t, string(res.Data), `"hi"`)
}

func TestExecCommandValidationFailure(t *testing.T) {
	cfg := writeConfig(t, newToolServer(t).URL)

	out, err := run(t, "exec", "echo", "--config", cfg)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, out, `"success": false`)
}

func TestHealthCommand(t *testing.T) {
	cfg := writeConfig(t, newToolServer(t).URL)

	out, err := run(t, "health", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "SERVER")
	assert.Regexp(t, `s1\s+healthy`, out)
	assert.Regexp(t, `local\s+healthy`, out)
	assert.Regexp(t, `ghost\s+unknown`, out)

	out, err = run(t, "health", "ghost", "--json", "--config", cfg)
	require.NoError(t, err)
	var body struct {
		Servers []protocol.HealthRecord `json:"servers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Servers, 1)
	assert.Contains(t, body.Servers[0].Error, "not configured")
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		pairs   []string
		want    map[string]interface{}
		wantErr bool
	}{
		{"empty", "", nil, map[string]interface{}{}, false},
		{"json", `{"a":1}`, nil, map[string]interface{}{"a": float64(1)}, false},
		{"pairs", "", []string{"text=hi", "n=3", "ok=true"}, map[string]interface{}{"text": "hi", "n": float64(3), "ok": true}, false},
		{"pair overrides json", `{"text":"a"}`, []string{"text=b"}, map[string]interface{}{"text": "b"}, false},
		{"bad json", `{`, nil, nil, true},
		{"bad pair", "", []string{"novalue"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.raw, tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
