package protocol

import (
	"encoding/json"
	"time"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/schema"
)

// ToolDescriptor describes a named tool and the server that executes it
type ToolDescriptor struct {
	Name        string        `json:"name" yaml:"name"`
	Category    string        `json:"category,omitempty" yaml:"category"`
	ServerID    string        `json:"serverId" yaml:"server"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Parameters  schema.Schema `json:"parameters,omitempty" yaml:"parameters"`
	// Idempotent tools are the only ones a retry budget applies to.
	Idempotent bool `json:"idempotent,omitempty" yaml:"idempotent"`
}

// ExecuteRequest is the body of POST {base}/execute
type ExecuteRequest struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolCallParams are the params of a tools/call JSON-RPC request
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ExecutionResult is the envelope returned by every tool invocation.
// Success and Error are mutually exclusive.
type ExecutionResult struct {
	Success         bool                 `json:"success"`
	Data            json.RawMessage      `json:"data,omitempty"`
	Error           *mcperrors.ToolError `json:"error,omitempty"`
	ToolName        string               `json:"toolName"`
	ServerID        string               `json:"serverId"`
	ExecutionTimeMs int64                `json:"executionTimeMs"`
	ExecutionID     string               `json:"executionId,omitempty"`
	Attempts        int                  `json:"attempts,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(toolName, serverID string, data json.RawMessage, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		Success:         true,
		Data:            data,
		ToolName:        toolName,
		ServerID:        serverID,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

// Failed builds a failed result. Any error is normalized into the taxonomy;
// a nil error is replaced so a failed result always carries one.
func Failed(toolName, serverID string, err error, elapsed time.Duration) ExecutionResult {
	te := mcperrors.Normalize(err)
	if te == nil {
		te = mcperrors.ToolFailed(toolName, "unknown failure")
	}
	if c := te.Context(); c.ServerID == "" || c.ToolName == "" {
		te = te.WithServer(serverID, toolName)
	}
	return ExecutionResult{
		Success:         false,
		Error:           te,
		ToolName:        toolName,
		ServerID:        serverID,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

// Decode unmarshals the result payload into v
func (r ExecutionResult) Decode(v interface{}) error {
	if !r.Success {
		if r.Error == nil {
			return mcperrors.ToolFailed(r.ToolName, "unknown failure")
		}
		return r.Error
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// HealthStatus is the probe outcome for a server
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthRecord is the latest probe outcome for one server
type HealthRecord struct {
	ServerID       string       `json:"serverId"`
	Status         HealthStatus `json:"status"`
	LastCheckedAt  time.Time    `json:"lastCheckedAt"`
	ResponseTimeMs *int64       `json:"responseTimeMs,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Healthy reports whether the last probe succeeded
func (h HealthRecord) Healthy() bool {
	return h.Status == HealthHealthy
}

// ConnectionStatus is the state of a persistent connection
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)
