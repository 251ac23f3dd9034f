package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"

	// MethodToolsCall invokes a tool over a persistent channel
	MethodToolsCall = "tools/call"
	// MethodPing is a liveness check over a persistent channel
	MethodPing = "ping"
)

// ErrorCode represents a JSON-RPC 2.0 error code
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = ErrorCode(mcperrors.CodeParseError)
	InvalidRequest ErrorCode = ErrorCode(mcperrors.CodeInvalidRequest)
	MethodNotFound ErrorCode = ErrorCode(mcperrors.CodeMethodNotFound)
	InvalidParams  ErrorCode = ErrorCode(mcperrors.CodeInvalidParams)
	InternalError  ErrorCode = ErrorCode(mcperrors.CodeInternalError)
)

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	resultJSON, err := marshalOptional(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) (*Response, error) {
	dataJSON, err := marshalOptional(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}

	rpcErr := &Error{Code: code, Message: message}
	if dataJSON != nil {
		rpcErr.Data = dataJSON
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error:          rpcErr,
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// ToolError converts the wire error into the error taxonomy.
func (e *Error) ToolError() *mcperrors.ToolError {
	return mcperrors.FromRPC(int(e.Code), e.Message, e.Data)
}

// MessageKind identifies the shape of an inbound JSON-RPC message
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindResponse
	KindNotification
)

// envelope is the union of all message fields, used for classification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func (e *envelope) hasID() bool {
	return len(e.ID) > 0 && string(e.ID) != "null"
}

func (e *envelope) kind() MessageKind {
	if e.JSONRPC != JSONRPCVersion {
		return KindInvalid
	}
	switch {
	case e.Method != "" && e.hasID():
		return KindRequest
	case e.Method != "":
		return KindNotification
	case e.hasID() && (len(e.Result) > 0 || e.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// Classify reports what kind of JSON-RPC message data holds.
func Classify(data []byte) MessageKind {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return KindInvalid
	}
	return env.kind()
}

// ParseResponse decodes data as a response. ok is false for requests,
// notifications and malformed input.
func ParseResponse(data []byte) (*Response, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.kind() != KindResponse {
		return nil, false
	}
	var id interface{}
	if err := json.Unmarshal(env.ID, &id); err != nil {
		return nil, false
	}
	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: env.JSONRPC},
		ID:             id,
		Result:         env.Result,
		Error:          env.Error,
	}, true
}

// IsRequest checks if a raw JSON message is a JSON-RPC 2.0 request
func IsRequest(data []byte) bool {
	return Classify(data) == KindRequest
}

// IsResponse checks if a raw JSON message is a JSON-RPC 2.0 response
func IsResponse(data []byte) bool {
	return Classify(data) == KindResponse
}

// IsNotification checks if a raw JSON message is a JSON-RPC 2.0 notification
func IsNotification(data []byte) bool {
	return Classify(data) == KindNotification
}

// IDKey normalizes a request id for correlation. Numeric ids decoded from
// JSON arrive as float64 and must match the integer they were sent as.
func IDKey(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return "s:" + v
	case float64:
		return "n:" + strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return "n:" + strconv.Itoa(v)
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	case json.Number:
		return "n:" + v.String()
	default:
		return fmt.Sprintf("x:%v", v)
	}
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
