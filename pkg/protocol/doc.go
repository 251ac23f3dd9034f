// Package protocol defines the wire and result types shared by toolmesh
// components.
//
// # Wire Formats
//
// HTTP tool servers are called with POST {base}/execute and the body
//
//	{"tool": "echo", "parameters": {"text": "hi"}}
//
// Any 2xx response body is the result payload. Push-style servers are
// called over a persistent socket with JSON-RPC 2.0:
//
//	{"jsonrpc": "2.0", "id": "7c1f...", "method": "tools/call",
//	 "params": {"name": "echo", "arguments": {"text": "hi"}}}
//
// Responses are correlated by id. Messages without a matching id are
// treated as notifications.
//
// # Results
//
// Every invocation returns an ExecutionResult. Use Succeeded and Failed to
// build one; Failed guarantees a non-nil error.
package protocol
