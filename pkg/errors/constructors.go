package errors

import (
	"fmt"
	"net/url"
	"time"
)

// ParameterErrorData contains structured data for parameter-related errors
type ParameterErrorData struct {
	Parameter string      `json:"parameter"`
	Value     interface{} `json:"value,omitempty"`
	Expected  string      `json:"expected,omitempty"`
	Got       string      `json:"got,omitempty"`
	Required  bool        `json:"required,omitempty"`
}

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport    string        `json:"transport"`
	Operation    string        `json:"operation,omitempty"`
	Endpoint     string        `json:"endpoint,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
}

// ServerNotConfigured reports a server with no validated endpoint.
func ServerNotConfigured(serverID string) *ToolError {
	return Newf(KindServerUnavailable, CodeServerNotConfigured,
		"Server %s is not configured", serverID).
		WithServer(serverID, "").
		WithHint(fmt.Sprintf("set an endpoint for %s (TOOLMESH_SERVERS_%s_ENDPOINT) and restart", serverID, envID(serverID)))
}

// ServerUnavailable reports a server that could not be started or reached.
func ServerUnavailable(serverID string, cause error) *ToolError {
	msg := fmt.Sprintf("Server %s is unavailable", serverID)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return Wrap(cause, KindServerUnavailable, CodeServerNotStarted, msg).
		WithServer(serverID, "").
		WithHint(fmt.Sprintf("start %s and verify its endpoint and credentials", serverID))
}

// ToolNotFound reports an unregistered tool name.
func ToolNotFound(name string) *ToolError {
	return Newf(KindValidation, CodeToolNotFound, "Tool not found: %s", name).
		WithServer("", name).
		WithHint("list the registered tools and check the name")
}

// Validation creates a generic validation error
func Validation(message string) *ToolError {
	return New(KindValidation, CodeValidationError, message)
}

// Validationf creates a generic validation error with formatting
func Validationf(format string, args ...interface{}) *ToolError {
	return Newf(KindValidation, CodeValidationError, format, args...)
}

// MissingParameter creates an error for a missing required parameter
func MissingParameter(param string) *ToolError {
	return Newf(KindValidation, CodeMissingParameter, "Missing required parameter: %s", param).
		WithData(&ParameterErrorData{Parameter: param, Required: true})
}

// InvalidParameterType creates an error for a parameter of the wrong type
func InvalidParameterType(param string, value interface{}, expected, got string) *ToolError {
	return Newf(KindValidation, CodeInvalidParameter,
		"Invalid type for parameter '%s': expected %s, got %s", param, expected, got).
		WithData(&ParameterErrorData{Parameter: param, Value: value, Expected: expected, Got: got})
}

// InvalidConfig reports a malformed configuration value.
func InvalidConfig(key string, reason string) *ToolError {
	return Newf(KindServerUnavailable, CodeInvalidConfig, "Invalid configuration %s: %s", key, reason).
		WithHint("fix the configuration value and restart")
}

// Unauthorized reports credentials rejected by a remote server.
func Unauthorized(serverID string, detail string) *ToolError {
	e := New(KindAuth, CodeUnauthorized, fmt.Sprintf("Server %s rejected the request credentials", serverID)).
		WithServer(serverID, "")
	if detail != "" {
		e = e.WithDetail(detail)
	}
	return e
}

// RateLimited reports remote throttling. retryAfter may be zero.
func RateLimited(serverID string, retryAfter time.Duration) *ToolError {
	e := New(KindRateLimit, CodeRateLimited, fmt.Sprintf("Server %s is rate limiting requests", serverID)).
		WithServer(serverID, "")
	if retryAfter > 0 {
		e = e.WithHint(fmt.Sprintf("wait %s before re-requesting", retryAfter))
	}
	return e
}

// Timeout reports an operation whose deadline elapsed.
func Timeout(operation string, timeout time.Duration) *ToolError {
	return Newf(KindNetwork, CodeOperationTimeout, "%s timed out after %s", operation, timeout).
		WithData(&TransportErrorData{Transport: "http", Operation: operation, Timeout: timeout})
}

// Cancelled reports an operation aborted by the caller.
func Cancelled(operation string) *ToolError {
	return Newf(KindNetwork, CodeOperationCancelled, "%s was cancelled", operation)
}

// ConnectionFailed reports a failure to establish a connection.
func ConnectionFailed(transport, endpoint string, cause error) *ToolError {
	message := fmt.Sprintf("Failed to connect via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("Failed to connect to %s via %s", redact(endpoint), transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, KindNetwork, CodeConnectionFailed, message).
		WithData(&TransportErrorData{Transport: transport, Operation: "connect", Endpoint: redact(endpoint)})
}

// NotConnected reports a send attempted without an open connection.
func NotConnected(serverID string) *ToolError {
	return Newf(KindServerUnavailable, CodeNotConnected, "Server %s has no open connection", serverID).
		WithServer(serverID, "")
}

// Network wraps a transport-level failure.
func Network(operation string, cause error) *ToolError {
	message := fmt.Sprintf("Network error during %s", operation)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, KindNetwork, CodeTransportError, message)
}

// ToolFailed reports a remote tool that ran and failed.
func ToolFailed(toolName string, message string) *ToolError {
	return Newf(KindToolExecution, CodeToolFailed, "Tool %s failed: %s", toolName, message).
		WithServer("", toolName)
}

// InvalidResponse reports a response body that could not be decoded.
func InvalidResponse(operation string, cause error) *ToolError {
	return Wrapf(cause, KindToolExecution, CodeInvalidResponse, "Invalid response during %s", operation)
}

// redact strips user info from an endpoint so credentials never reach logs.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.User == nil {
		return endpoint
	}
	u.User = nil
	return u.String()
}

func envID(serverID string) string {
	out := make([]byte, 0, len(serverID))
	for i := 0; i < len(serverID); i++ {
		c := serverID[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
