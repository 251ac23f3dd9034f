package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// RPCClient issues JSON-RPC 2.0 calls over a managed connection and
// correlates responses by id. Notifications and responses with no pending
// call are dropped.
type RPCClient struct {
	cm       *ConnectionManager
	serverID string
	logger   logging.Logger

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
}

// NewRPCClient creates a client for serverID and registers it as the
// connection's message handler.
func NewRPCClient(cm *ConnectionManager, serverID string, logger logging.Logger) *RPCClient {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &RPCClient{
		cm:       cm,
		serverID: serverID,
		logger:   logger.WithFields(logging.Component("rpc"), logging.Server(serverID)),
		pending:  make(map[string]chan *protocol.Response),
	}
	cm.Handle(serverID, c.dispatch)
	return c
}

// Call sends method with params and waits for the matching response or for
// ctx to end. A JSON-RPC error response is returned as a ToolError.
func (c *RPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.New().String()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.Wrap(err, mcperrors.KindValidation, mcperrors.CodeInvalidParams, "Failed to encode request parameters")
	}

	key := protocol.IDKey(id)
	ch := make(chan *protocol.Response, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if !c.cm.SendMessage(ctx, c.serverID, req) {
		return nil, mcperrors.NotConnected(c.serverID)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error.ToolError().WithServer(c.serverID, "")
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, mcperrors.Normalize(ctx.Err()).WithServer(c.serverID, "")
	}
}

// Pending returns the number of calls awaiting a response
func (c *RPCClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close unregisters the client from the connection manager
func (c *RPCClient) Close() {
	c.cm.Handle(c.serverID, nil)
}

func (c *RPCClient) dispatch(data []byte) {
	resp, ok := protocol.ParseResponse(data)
	if !ok {
		c.logger.Debug("Ignoring non-response message")
		return
	}

	key := protocol.IDKey(resp.ID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response with no pending call", logging.String("id", key))
		return
	}
	ch <- resp
}
