package toolmesh

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, dir, "tools.yaml", `
tools:
  - name: echo
    server: local
    parameters:
      text: {type: string, required: true}
`)
	cfg := writeFile(t, dir, "toolmesh.yaml", `
strict: true
catalog: `+catalog+`
history:
  dsn: "file:`+filepath.Join(dir, "history.db")+`"
health:
  schedule: "@every 1h"
servers:
  local:
    endpoint: builtin://local
`)

	var logs bytes.Buffer
	rt, err := Load(cfg, Options{LogOutput: &logs})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rt.Coordinator.Init(ctx))

	tools := rt.Coordinator.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	res := rt.Coordinator.StartServer(ctx, "local")
	assert.True(t, res.Success)

	sys := rt.Coordinator.GetSystemHealth()
	assert.Equal(t, 1, sys.ConfiguredServers)
	assert.Equal(t, 1, sys.ActiveServers)
	assert.True(t, sys.MonitorRunning)

	require.NoError(t, rt.Close(ctx))
	assert.Contains(t, logs.String(), "Coordinator initialized")
}

func TestLoadRejectsOrphanTools(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, dir, "tools.yaml", `
tools:
  - name: echo
    server: nowhere
`)
	cfg := writeFile(t, dir, "toolmesh.yaml", "catalog: "+catalog+"\n")

	_, err := Load(cfg, Options{LogOutput: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "toolmesh.yaml", "health:\n  schedule: \"every tuesday\"\n")

	_, err := Load(cfg, Options{LogOutput: &bytes.Buffer{}})
	assert.Error(t, err)
}
