package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/toolmesh/pkg/auth"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
	"github.com/ajitpratap0/toolmesh/pkg/schema"
	"github.com/ajitpratap0/toolmesh/pkg/transport"
)

func echoSchema() schema.Schema {
	return schema.Schema{
		"text": {Type: schema.TypeString, Required: true},
		"loud": {Type: schema.TypeBoolean},
	}
}

// countingServer records every request and answers with handler
func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"tool": req.Tool, "echo": req.Parameters})
}

// stalledServer never answers. The handler drains the body so the server
// notices the client going away, and release frees it before the server is
// closed.
func stalledServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	// Cleanups run last-in first-out, so this runs before srv.Close.
	t.Cleanup(func() { close(release) })
	return srv
}

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func TestHTTPExecuteEcho(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		echoHandler(w, r)
	})

	ex := NewHTTPExecutor(HTTPOptions{})
	res := ex.Execute(context.Background(), Request{
		ServerID:    "s1",
		Tool:        "echo",
		Parameters:  map[string]interface{}{"text": "hi"},
		HTTPBaseURL: srv.URL + "/",
		Schema:      echoSchema(),
	})

	require.True(t, res.Success, "%v", res.Error)
	assert.Nil(t, res.Error)
	assert.Equal(t, "echo", res.ToolName)
	assert.Equal(t, "s1", res.ServerID)
	assert.Len(t, res.ExecutionID, 36)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, string(res.Data), `"hi"`)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	var out struct {
		Echo map[string]string `json:"echo"`
	}
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "hi", out.Echo["text"])
}

func TestValidationFailureMakesNoCalls(t *testing.T) {
	srv, calls := countingServer(t, echoHandler)
	ex := NewHTTPExecutor(HTTPOptions{})

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"missing required", map[string]interface{}{}},
		{"nil params", nil},
		{"wrong type", map[string]interface{}{"text": 42}},
		{"wrong optional type", map[string]interface{}{"text": "hi", "loud": "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Execute(context.Background(), Request{
				ServerID:    "s1",
				Tool:        "echo",
				Parameters:  tt.params,
				HTTPBaseURL: srv.URL,
				MaxRetries:  3,
				Schema:      echoSchema(),
			})
			require.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, mcperrors.KindValidation, res.Error.Kind())
			assert.Equal(t, 0, res.Attempts)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestTimeoutIsEnforced(t *testing.T) {
	srv := stalledServer(t)

	ex := NewHTTPExecutor(HTTPOptions{})
	start := time.Now()
	res := ex.Execute(context.Background(), Request{
		ServerID:    "s1",
		Tool:        "slow",
		HTTPBaseURL: srv.URL,
		Timeout:     100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.False(t, res.Success)
	assert.Equal(t, mcperrors.KindNetwork, res.Error.Kind())
	assert.Equal(t, mcperrors.CodeOperationTimeout, res.Error.Code())
	assert.LessOrEqual(t, elapsed, 150*time.Millisecond)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(100))
}

func TestServerErrorMessageCarriesStatus(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"database exploded"}`)
	})

	ex := NewHTTPExecutor(HTTPOptions{Retry: fastRetry()})
	res := ex.Execute(context.Background(), Request{
		ServerID:    "s1",
		Tool:        "query",
		HTTPBaseURL: srv.URL,
		MaxRetries:  2,
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error.Error(), "500")
	assert.Contains(t, res.Error.Error(), "database exploded")
	assert.Equal(t, mcperrors.KindToolExecution, res.Error.Kind())
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(0))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "tool failures are not retried")
	assert.Equal(t, "s1", res.Error.Context().ServerID)
	assert.Equal(t, "query", res.Error.Context().ToolName)
}

func TestHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   mcperrors.Kind
	}{
		{http.StatusUnauthorized, mcperrors.KindAuth},
		{http.StatusForbidden, mcperrors.KindAuth},
		{http.StatusTooManyRequests, mcperrors.KindRateLimit},
		{http.StatusBadGateway, mcperrors.KindNetwork},
		{http.StatusServiceUnavailable, mcperrors.KindServerUnavailable},
		{http.StatusNotFound, mcperrors.KindToolExecution},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			res := NewHTTPExecutor(HTTPOptions{}).Execute(context.Background(), Request{
				ServerID: "s1", Tool: "t", HTTPBaseURL: srv.URL,
			})
			require.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Error.Kind())
		})
	}
}

func TestRetriesRetryableFailures(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	ex := NewHTTPExecutor(HTTPOptions{Retry: fastRetry()})
	res := ex.Execute(context.Background(), Request{
		ServerID: "s1", Tool: "read", HTTPBaseURL: srv.URL, MaxRetries: 2,
	})

	require.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestRetryRecovers(t *testing.T) {
	var n int32
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		echoHandler(w, r)
	})

	ex := NewHTTPExecutor(HTTPOptions{Retry: fastRetry()})
	res := ex.Execute(context.Background(), Request{
		ServerID: "s1", Tool: "echo", HTTPBaseURL: srv.URL, MaxRetries: 1,
		Parameters: map[string]interface{}{"text": "again"},
	})

	require.True(t, res.Success, "%v", res.Error)
	assert.Equal(t, 2, res.Attempts)
}

func TestZeroRetriesByDefault(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res := NewHTTPExecutor(HTTPOptions{Retry: fastRetry()}).Execute(context.Background(), Request{
		ServerID: "s1", Tool: "write", HTTPBaseURL: srv.URL,
	})
	require.False(t, res.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestCredentialsApplied(t *testing.T) {
	seen := make(chan string, 1)
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		echoHandler(w, r)
	})

	ex := NewHTTPExecutor(HTTPOptions{
		Credentials: func(serverID string) auth.CredentialProvider {
			return auth.NewBearerProvider("token-" + serverID)
		},
	})
	res := ex.Execute(context.Background(), Request{ServerID: "s1", Tool: "echo", HTTPBaseURL: srv.URL})
	require.True(t, res.Success, "%v", res.Error)
	assert.Equal(t, "Bearer token-s1", <-seen)
}

func TestInvalidResponseBody(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	})

	res := NewHTTPExecutor(HTTPOptions{}).Execute(context.Background(), Request{ServerID: "s1", Tool: "t", HTTPBaseURL: srv.URL})
	require.False(t, res.Success)
	assert.Equal(t, mcperrors.CodeInvalidResponse, res.Error.Code())
}

func TestMissingBaseURL(t *testing.T) {
	res := NewHTTPExecutor(HTTPOptions{}).Execute(context.Background(), Request{ServerID: "s9", Tool: "t"})
	require.False(t, res.Success)
	assert.Equal(t, mcperrors.KindServerUnavailable, res.Error.Kind())
}

func TestCallerCancellation(t *testing.T) {
	srv := stalledServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := NewHTTPExecutor(HTTPOptions{}).Execute(ctx, Request{ServerID: "s1", Tool: "t", HTTPBaseURL: srv.URL, Timeout: time.Second})
	require.False(t, res.Success)
	assert.Equal(t, mcperrors.CodeOperationCancelled, res.Error.Code())
}

func TestRPCExecutor(t *testing.T) {
	cm := transport.NewConnectionManager(transport.Options{})
	defer cm.CloseAll()

	ex := NewRPCExecutor(RPCOptions{Connections: cm, DefaultTimeout: 100 * time.Millisecond})

	t.Run("not connected", func(t *testing.T) {
		res := ex.Execute(context.Background(), Request{ServerID: "s1", Tool: "echo"})
		require.False(t, res.Success)
		assert.Equal(t, mcperrors.KindServerUnavailable, res.Error.Kind())
		assert.Equal(t, mcperrors.CodeNotConnected, res.Error.Code())
	})

	t.Run("validation first", func(t *testing.T) {
		res := ex.Execute(context.Background(), Request{ServerID: "s1", Tool: "echo", Schema: echoSchema()})
		require.False(t, res.Success)
		assert.Equal(t, mcperrors.KindValidation, res.Error.Kind())
	})

	t.Run("builtin discards and times out", func(t *testing.T) {
		require.True(t, cm.Connect(context.Background(), "local", "builtin://local"))
		res := ex.Execute(context.Background(), Request{ServerID: "local", Tool: "echo"})
		require.False(t, res.Success)
		assert.Equal(t, mcperrors.CodeOperationTimeout, res.Error.Code())
		ex.Forget("local")
	})
}

func TestLocalExecutor(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	ex := NewLocalExecutor(LocalOptions{DefaultTimeout: 100 * time.Millisecond})
	ex.Register("stuck", func(context.Context, map[string]interface{}) (interface{}, error) {
		<-block
		return nil, nil
	})
	ex.Register("boom", func(context.Context, map[string]interface{}) (interface{}, error) {
		panic("kaput")
	})
	assert.Equal(t, []string{"boom", "echo", "noop", "stuck"}, ex.Names())

	tests := []struct {
		name    string
		tool    string
		params  map[string]interface{}
		success bool
		data    string
		code    int
	}{
		{name: "echo", tool: "echo", params: map[string]interface{}{"text": "hi"}, success: true, data: `{"echo":{"text":"hi"}}`},
		{name: "noop", tool: "noop", success: true, data: `{}`},
		{name: "unknown tool", tool: "missing", code: mcperrors.CodeToolNotFound},
		{name: "handler ignores deadline", tool: "stuck", code: mcperrors.CodeOperationTimeout},
		{name: "panic", tool: "boom", code: mcperrors.CodeToolFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			res := ex.Execute(context.Background(), Request{ServerID: "local", Tool: tt.tool, Parameters: tt.params, MaxRetries: 3})
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, 1, res.Attempts)
			if tt.success {
				require.True(t, res.Success, "%v", res.Error)
				assert.JSONEq(t, tt.data, string(res.Data))
				return
			}
			require.False(t, res.Success)
			assert.Equal(t, tt.code, res.Error.Code())
		})
	}
}
