// Package transport owns persistent connections to tool servers.
//
// A ConnectionManager keeps exactly one connection per server id and drives
// each connection through the states
//
//	disconnected -> connecting -> connected | error
//	connected    -> disconnected   (explicit Disconnect or remote close)
//
// Transitions happen in response to Events delivered by a Link. Links are
// produced by a Dialer; WebSocketDialer opens ws/wss endpoints and builtin://
// endpoints are satisfied in-process without a socket.
//
// The manager never reconnects on its own. A failed or closed connection
// stays observable until the caller decides to Connect again.
//
// # Usage
//
//	cm := transport.NewConnectionManager(transport.Options{
//		Dialer: transport.NewWebSocketDialer(nil),
//		Logger: logger,
//	})
//	defer cm.CloseAll()
//
//	if !cm.Connect(ctx, "search", "wss://search.internal/ws") {
//		// the failure was logged; Status reports "error"
//	}
//
//	rpc := transport.NewRPCClient(cm, "search", logger)
//	result, err := rpc.Call(ctx, protocol.MethodToolsCall, params)
package transport
