// Package toolmesh registers remote tool servers, connects to them, runs
// named tools with validated arguments and bounded latency, and tracks
// server health.
//
// # Overview
//
// toolmesh consists of several sub-packages:
//
//   - pkg/config: resolves per-server endpoints, timeouts and credentials
//   - pkg/errors: the error taxonomy every failure is normalized into
//   - pkg/transport: the connection manager and JSON-RPC over WebSocket
//   - pkg/executor: single tool invocations over HTTP or JSON-RPC
//   - pkg/health: on-demand and periodic server probes
//   - pkg/coordinator: the façade tying the above together
//   - pkg/history: SQLite record of executions and probes
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Running Tools
//
// Build a runtime from a config file and the TOOLMESH_* environment:
//
//	rt, err := toolmesh.Load("toolmesh.yaml", toolmesh.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(context.Background())
//
//	if err := rt.Coordinator.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	res := rt.Coordinator.ExecuteTool(ctx, "echo", map[string]interface{}{"text": "hi"})
//	if !res.Success {
//	    log.Printf("%s (hint: %s)", res.Error, res.Error.Hint())
//	}
//
// A tool's server is started the first time one of its tools runs. Starting
// connects, probes GET {base}/health and marks the server active only when
// the probe is healthy.
//
// # Configuration
//
// Servers are configured under servers.<id> in the config file or with
// TOOLMESH_SERVERS_<ID>_ENDPOINT style variables:
//
//	strict: true
//	catalog: tools.yaml
//	servers:
//	  s1:
//	    endpoint: wss://tools.example.com/ws
//	    timeout: 10s
//	    token: ${S1_TOKEN}
//	health:
//	  interval: 30s
//	  max_consecutive_failures: 3
//
// In strict mode a server without an endpoint is never contacted; in relaxed
// mode it falls back to ws://127.0.0.1:<dev_port>.
//
// # Errors
//
// Failures are reported in ExecutionResult.Error as *errors.ToolError with a
// Kind (server_unavailable, validation, auth, rate_limit, network,
// tool_execution), a message and an optional hint. Invalid parameters fail
// before any network call and are never retried.
package toolmesh
