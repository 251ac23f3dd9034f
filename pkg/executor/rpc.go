package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
	"github.com/ajitpratap0/toolmesh/pkg/transport"
)

// RPCOptions configures an RPCExecutor
type RPCOptions struct {
	Connections    *transport.ConnectionManager
	DefaultTimeout time.Duration
	Retry          RetryPolicy
	Logger         logging.Logger
	Metrics        *observability.Metrics
	Tracing        *observability.TracingProvider
}

// RPCExecutor sends tools/call over a server's persistent connection. The
// connection must already be open; the executor never dials.
type RPCExecutor struct {
	runner
	connections *transport.ConnectionManager

	mu      sync.Mutex
	clients map[string]*transport.RPCClient
}

var _ Executor = (*RPCExecutor)(nil)

// NewRPCExecutor creates an executor
func NewRPCExecutor(opts RPCOptions) *RPCExecutor {
	return &RPCExecutor{
		runner:      newRunner(opts.DefaultTimeout, opts.Retry, opts.Logger, opts.Metrics, opts.Tracing),
		connections: opts.Connections,
		clients:     make(map[string]*transport.RPCClient),
	}
}

// Execute runs the tool
func (e *RPCExecutor) Execute(ctx context.Context, req Request) protocol.ExecutionResult {
	client := e.client(req.ServerID)
	return e.run(ctx, req, func(ctx context.Context) (json.RawMessage, error) {
		params := req.Parameters
		if params == nil {
			params = map[string]interface{}{}
		}
		return client.Call(ctx, protocol.MethodToolsCall, protocol.ToolCallParams{
			Name:      req.Tool,
			Arguments: params,
		})
	})
}

func (e *RPCExecutor) client(serverID string) *transport.RPCClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clients[serverID]
	if !ok {
		c = transport.NewRPCClient(e.connections, serverID, e.logger)
		e.clients[serverID] = c
	}
	return c
}

// Forget drops the cached client for serverID
func (e *RPCExecutor) Forget(serverID string) {
	e.mu.Lock()
	c, ok := e.clients[serverID]
	delete(e.clients, serverID)
	e.mu.Unlock()
	if ok {
		c.Close()
	}
}
