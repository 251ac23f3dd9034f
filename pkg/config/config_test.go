package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/schema"
)

func newResolver(t *testing.T, strict bool, values map[string]interface{}) *Resolver {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	r := NewResolver(v, strict)
	r.environ = func() []string { return nil }
	return r
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		values   map[string]interface{}
		wantOK   bool
		endpoint string
		httpURL  string
	}{
		{
			name:     "ws derives http",
			strict:   true,
			values:   map[string]interface{}{"servers.s1.endpoint": "ws://tools.local:9000"},
			wantOK:   true,
			endpoint: "ws://tools.local:9000",
			httpURL:  "http://tools.local:9000",
		},
		{
			name:     "wss derives https",
			strict:   true,
			values:   map[string]interface{}{"servers.s1.endpoint": "wss://tools.local/ws/"},
			wantOK:   true,
			endpoint: "wss://tools.local/ws/",
			httpURL:  "https://tools.local/ws",
		},
		{
			name:     "http url derives ws",
			strict:   true,
			values:   map[string]interface{}{"servers.s1.http_url": "https://api.local/"},
			wantOK:   true,
			endpoint: "wss://api.local",
			httpURL:  "https://api.local",
		},
		{
			name:     "http endpoint",
			strict:   true,
			values:   map[string]interface{}{"servers.s1.endpoint": "http://api.local:8000"},
			wantOK:   true,
			endpoint: "ws://api.local:8000",
			httpURL:  "http://api.local:8000",
		},
		{
			name:   "both supplied",
			strict: true,
			values: map[string]interface{}{
				"servers.s1.endpoint": "ws://socket.local",
				"servers.s1.http_url": "http://api.local",
			},
			wantOK:   true,
			endpoint: "ws://socket.local",
			httpURL:  "http://api.local",
		},
		{
			name:     "builtin",
			strict:   true,
			values:   map[string]interface{}{"servers.s1.endpoint": "builtin://local"},
			wantOK:   true,
			endpoint: "builtin://local",
		},
		{
			name:   "absent strict",
			strict: true,
			values: map[string]interface{}{},
		},
		{
			name:     "absent relaxed",
			strict:   false,
			values:   map[string]interface{}{},
			wantOK:   true,
			endpoint: "ws://127.0.0.1:8080",
			httpURL:  "http://127.0.0.1:8080",
		},
		{
			name:     "relaxed dev port",
			strict:   false,
			values:   map[string]interface{}{"servers.s1.dev_port": 9100},
			wantOK:   true,
			endpoint: "ws://127.0.0.1:9100",
			httpURL:  "http://127.0.0.1:9100",
		},
		{
			name:   "bad scheme",
			strict: true,
			values: map[string]interface{}{"servers.s1.endpoint": "ftp://files.local"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, tt.strict, tt.values)
			d, ok := r.Resolve("s1")
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, "s1", d.ID)
			assert.NotEmpty(t, d.Endpoint)
			assert.Equal(t, tt.endpoint, d.Endpoint)
			assert.Equal(t, tt.httpURL, d.HTTPBaseURL)
			assert.Equal(t, DefaultTimeout, d.Timeout)
			assert.Equal(t, 0, d.MaxRetries)
			assert.Equal(t, !tt.strict && tt.values["servers.s1.endpoint"] == nil, d.Fallback)
		})
	}
}

func TestResolveStrictErrors(t *testing.T) {
	r := newResolver(t, true, map[string]interface{}{"servers.bad.endpoint": "tcp://x"})

	_, err := r.ResolveStrict("s2")
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindServerUnavailable))
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeServerNotConfigured))

	_, err = r.ResolveStrict("bad")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidConfig))

	_, err = r.ResolveStrict("")
	assert.Error(t, err)
}

func TestResolveServerSettings(t *testing.T) {
	r := newResolver(t, true, map[string]interface{}{
		"servers.s1.endpoint":    "ws://x",
		"servers.s1.timeout":     "250ms",
		"servers.s1.max_retries": 2,
		"servers.s1.mode":        "rpc",
		"servers.s1.token":       "tkn",
		"servers.s1.jwt_secret":  "shh",
	})

	d, ok := r.Resolve("S1")
	require.True(t, ok)
	assert.Equal(t, "S1", d.ID)
	assert.Equal(t, 250*time.Millisecond, d.Timeout)
	assert.Equal(t, 2, d.MaxRetries)
	assert.True(t, d.Push())
	assert.False(t, d.Builtin())
	assert.Equal(t, "tkn", d.Credentials.Token)
	assert.Equal(t, "shh", d.Credentials.JWTSecret)
	assert.False(t, d.Credentials.Empty())

	r = newResolver(t, true, map[string]interface{}{
		"servers.s1.endpoint":    "ws://x",
		"servers.s1.max_retries": -1,
	})
	_, ok = r.Resolve("s1")
	assert.False(t, ok)

	r = newResolver(t, true, map[string]interface{}{
		"servers.s1.endpoint": "ws://x",
		"servers.s1.mode":     "grpc",
	})
	_, ok = r.Resolve("s1")
	assert.False(t, ok)
}

func TestResolveFromEnvironment(t *testing.T) {
	t.Setenv("TOOLMESH_SERVERS_WEB_SCRAPER_ENDPOINT", "wss://scraper.local")
	t.Setenv("TOOLMESH_SERVERS_DB_HTTP_URL", "http://db.local")
	t.Setenv("TOOLMESH_SERVERS_DB_TIMEOUT", "2s")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, r, err := FromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.Strict)

	ids := r.ServerIDs()
	assert.Contains(t, ids, "web_scraper")
	assert.Contains(t, ids, "db")

	d, ok := r.Resolve("web_scraper")
	require.True(t, ok)
	assert.Equal(t, "https://scraper.local", d.HTTPBaseURL)

	d, ok = r.Resolve("db")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d.Timeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strict: false
health:
  interval: 10s
  max_consecutive_failures: 5
log:
  level: DEBUG
servers:
  s1:
    endpoint: ws://127.0.0.1:9000
  s2:
    timeout: 5s
`), 0600))

	cfg, r, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Strict)
	assert.False(t, r.Strict())
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, DefaultHealthTimeout, cfg.Health.Timeout)
	assert.Equal(t, 5, cfg.Health.MaxConsecutiveFailures)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultMetricsNamespace, cfg.Metrics.Namespace)

	ids := r.ServerIDs()
	assert.Contains(t, ids, "s1")
	assert.Contains(t, ids, "s2")

	_, _, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero values filled", Config{}, false},
		{"negative interval", Config{Health: HealthConfig{Interval: -time.Second}}, true},
		{"negative failures", Config{Health: HealthConfig{MaxConsecutiveFailures: -1}}, true},
		{"bad level", Config{Log: LogConfig{Level: "loud"}}, true},
		{"bad format", Config{Log: LogConfig{Format: "xml"}}, true},
		{"bad exporter", Config{Tracing: TracingConfig{Exporter: "zipkin"}}, true},
		{"bad sample rate", Config{Tracing: TracingConfig{SampleRate: 2}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultHealthInterval, cfg.Health.Interval)
			assert.Equal(t, DefaultMaxConsecutiveFailures, cfg.Health.MaxConsecutiveFailures)
			assert.Equal(t, "info", cfg.Log.Level)
		})
	}
}

func TestParseCatalog(t *testing.T) {
	tools, err := ParseCatalog([]byte(`
tools:
  - name: echo
    category: utility
    server: s1
    parameters:
      text: {type: string, required: true}
      loud: {type: boolean, default: false}
  - name: query
    server: db
    idempotent: true
`))
	require.NoError(t, err)
	require.Len(t, tools, 2)

	echo := tools[0]
	assert.Equal(t, "echo", echo.Name)
	assert.Equal(t, "s1", echo.ServerID)
	assert.Equal(t, schema.TypeString, echo.Parameters["text"].Type)
	assert.True(t, echo.Parameters["text"].Required)
	assert.Equal(t, false, echo.Parameters["loud"].Default)
	assert.True(t, tools[1].Idempotent)

	empty, err := ParseCatalog(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "tools:\n  - name: a\n    server: s1\n    colour: red\n",
		"missing name":    "tools:\n  - server: s1\n",
		"missing server":  "tools:\n  - name: a\n",
		"bad type":        "tools:\n  - name: a\n    server: s1\n    parameters:\n      x: {type: date}\n",
		"default mismatch": "tools:\n  - name: a\n    server: s1\n    parameters:\n      x: {type: number, default: abc}\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: echo\n    server: s1\n"), 0600))

	tools, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
