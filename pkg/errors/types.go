// Package errors provides the structured error taxonomy used across toolmesh.
// Every failure that reaches a caller is a *ToolError carrying a Kind for
// machine routing (HTTP status mapping, retry decisions) and a human-readable
// message plus an optional hint for display.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error into one of the taxonomy buckets.
type Kind string

const (
	KindServerUnavailable Kind = "server_unavailable"
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindRateLimit         Kind = "rate_limit"
	KindNetwork           Kind = "network"
	KindToolExecution     Kind = "tool_execution"
)

// HTTPStatus returns the suggested transport status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindServerUnavailable:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where and when an error occurred
type Context struct {
	ServerID  string    `json:"server_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolError is the single error type returned across package boundaries.
// Modifiers return copies; a ToolError is never mutated after construction.
type ToolError struct {
	kind     Kind
	code     int
	message  string
	details  string
	hint     string
	data     interface{}
	severity Severity
	context  *Context
	cause    error
}

// Error implements the error interface
func (e *ToolError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

// Kind returns the taxonomy bucket
func (e *ToolError) Kind() Kind {
	return e.kind
}

// Code returns the numeric error code
func (e *ToolError) Code() int {
	return e.code
}

// Message returns the human-readable error message
func (e *ToolError) Message() string {
	return e.message
}

// Details returns the technical description used for debugging
func (e *ToolError) Details() string {
	return e.details
}

// Hint returns an actionable next step for the user, if any
func (e *ToolError) Hint() string {
	return e.hint
}

// Data returns structured error data
func (e *ToolError) Data() interface{} {
	return e.data
}

// Severity returns the error severity
func (e *ToolError) Severity() Severity {
	return e.severity
}

// Context returns the error context. It is never nil.
func (e *ToolError) Context() *Context {
	return e.context
}

// HTTPStatus maps the error to a transport status code.
func (e *ToolError) HTTPStatus() int {
	return e.kind.HTTPStatus()
}

// Persistent reports whether a UI should keep the error visible until
// dismissed. Transient network and rate-limit errors may auto-clear.
func (e *ToolError) Persistent() bool {
	if e.severity == SeverityCritical {
		return true
	}
	return e.kind == KindAuth || e.kind == KindServerUnavailable
}

// Unwrap returns the underlying error
func (e *ToolError) Unwrap() error {
	return e.cause
}

// Is matches another *ToolError by kind and code, so sentinel comparisons
// work through errors.Is.
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok {
		return false
	}
	return e.kind == t.kind && e.code == t.code
}

// WithContext returns a copy carrying the provided context
func (e *ToolError) WithContext(ctx *Context) *ToolError {
	newErr := *e
	switch {
	case ctx == nil:
		ctx = &Context{Timestamp: e.context.Timestamp}
	case ctx.Timestamp.IsZero():
		c := *ctx
		c.Timestamp = e.context.Timestamp
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

// WithServer returns a copy whose context names the server and tool.
func (e *ToolError) WithServer(serverID, toolName string) *ToolError {
	c := *e.context
	if serverID != "" {
		c.ServerID = serverID
	}
	if toolName != "" {
		c.ToolName = toolName
	}
	return e.WithContext(&c)
}

// WithDetail returns a copy with additional detail appended
func (e *ToolError) WithDetail(detail string) *ToolError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithHint returns a copy with the given hint
func (e *ToolError) WithHint(hint string) *ToolError {
	newErr := *e
	newErr.hint = hint
	return &newErr
}

// WithData returns a copy with structured data attached
func (e *ToolError) WithData(data interface{}) *ToolError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// WithSeverity returns a copy with the given severity
func (e *ToolError) WithSeverity(severity Severity) *ToolError {
	newErr := *e
	newErr.severity = severity
	return &newErr
}

// ToJSON returns the error as a JSON-serializable map
func (e *ToolError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"kind":     string(e.kind),
		"code":     e.code,
		"message":  e.message,
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}
	if e.hint != "" {
		result["hint"] = e.hint
	}
	if e.data != nil {
		result["data"] = e.data
	}
	if e.context != nil {
		result["context"] = e.context
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler
func (e *ToolError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// New creates a ToolError of the given kind. Severity and hint default from
// the code registry.
func New(kind Kind, code int, message string) *ToolError {
	return &ToolError{
		kind:     kind,
		code:     code,
		message:  message,
		hint:     DefaultHint(kind),
		severity: GetCodeSeverity(code),
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates a ToolError with a formatted message
func Newf(kind Kind, code int, format string, args ...interface{}) *ToolError {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error as a ToolError
func Wrap(err error, kind Kind, code int, message string) *ToolError {
	e := New(kind, code, message)
	e.cause = err
	return e
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, kind Kind, code int, format string, args ...interface{}) *ToolError {
	return Wrap(err, kind, code, fmt.Sprintf(format, args...))
}

// As extracts a *ToolError from an error chain
func As(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var te *ToolError
	if stderrors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind checks if an error chain contains a ToolError of the given kind
func IsKind(err error, kind Kind) bool {
	if te, ok := As(err); ok {
		return te.kind == kind
	}
	return false
}

// IsCode checks if an error chain contains a ToolError with the given code
func IsCode(err error, code int) bool {
	if te, ok := As(err); ok {
		return te.code == code
	}
	return false
}
