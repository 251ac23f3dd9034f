package errors

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// toolmesh error codes, grouped by range
const (
	// Server availability errors (-32000 to -32099)
	CodeServerNotConfigured int = -32000 // No validated endpoint for the server
	CodeServerNotStarted    int = -32001 // Server exists but could not be started
	CodeServerUnavailable   int = -32002 // Server reported itself unavailable (503)

	// Authentication and authorization errors (-32100 to -32199)
	CodeUnauthorized int = -32100 // Credentials rejected
	CodeForbidden    int = -32104 // Credentials valid but insufficient
	CodeRateLimited  int = -32105 // Remote server throttled the request

	// Lookup errors (-32200 to -32299)
	CodeToolNotFound int = -32200 // Tool name is not registered

	// Operation errors (-32300 to -32399)
	CodeOperationCancelled int = -32300 // Caller cancelled the operation
	CodeOperationTimeout   int = -32301 // Deadline elapsed before a response
	CodeToolFailed         int = -32302 // Remote tool ran and reported failure
	CodeInvalidResponse    int = -32303 // Remote response could not be decoded

	// Transport errors (-32500 to -32599)
	CodeTransportError   int = -32500 // Generic transport error
	CodeConnectionFailed int = -32501 // Could not establish a connection
	CodeConnectionLost   int = -32502 // Connection dropped mid-operation
	CodeNotConnected     int = -32504 // No open connection for the server

	// Validation errors (-32750 to -32799)
	CodeValidationError  int = -32750 // Generic validation error
	CodeMissingParameter int = -32751 // Required parameter missing
	CodeInvalidParameter int = -32752 // Parameter has the wrong type
	CodeInvalidConfig    int = -32753 // Configuration value is malformed
)

// CodeInfo provides human-readable information about an error code
type CodeInfo struct {
	Code     int
	Name     string
	Kind     Kind
	Severity Severity
}

var codeRegistry = map[int]CodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", KindToolExecution, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", KindValidation, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", KindToolExecution, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", KindValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", KindToolExecution, SeverityError},

	CodeServerNotConfigured: {CodeServerNotConfigured, "ServerNotConfigured", KindServerUnavailable, SeverityCritical},
	CodeServerNotStarted:    {CodeServerNotStarted, "ServerNotStarted", KindServerUnavailable, SeverityError},
	CodeServerUnavailable:   {CodeServerUnavailable, "ServerUnavailable", KindServerUnavailable, SeverityError},

	CodeUnauthorized: {CodeUnauthorized, "Unauthorized", KindAuth, SeverityCritical},
	CodeForbidden:    {CodeForbidden, "Forbidden", KindAuth, SeverityCritical},
	CodeRateLimited:  {CodeRateLimited, "RateLimited", KindRateLimit, SeverityWarning},

	CodeToolNotFound: {CodeToolNotFound, "ToolNotFound", KindValidation, SeverityError},

	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", KindNetwork, SeverityInfo},
	CodeOperationTimeout:   {CodeOperationTimeout, "OperationTimeout", KindNetwork, SeverityWarning},
	CodeToolFailed:         {CodeToolFailed, "ToolFailed", KindToolExecution, SeverityError},
	CodeInvalidResponse:    {CodeInvalidResponse, "InvalidResponse", KindToolExecution, SeverityError},

	CodeTransportError:   {CodeTransportError, "TransportError", KindNetwork, SeverityWarning},
	CodeConnectionFailed: {CodeConnectionFailed, "ConnectionFailed", KindNetwork, SeverityWarning},
	CodeConnectionLost:   {CodeConnectionLost, "ConnectionLost", KindNetwork, SeverityWarning},
	CodeNotConnected:     {CodeNotConnected, "NotConnected", KindServerUnavailable, SeverityError},

	CodeValidationError:  {CodeValidationError, "ValidationError", KindValidation, SeverityError},
	CodeMissingParameter: {CodeMissingParameter, "MissingParameter", KindValidation, SeverityError},
	CodeInvalidParameter: {CodeInvalidParameter, "InvalidParameter", KindValidation, SeverityError},
	CodeInvalidConfig:    {CodeInvalidConfig, "InvalidConfig", KindServerUnavailable, SeverityCritical},
}

// GetCodeInfo returns information about an error code
func GetCodeInfo(code int) (CodeInfo, bool) {
	info, exists := codeRegistry[code]
	return info, exists
}

// GetCodeName returns the name of an error code
func GetCodeName(code int) string {
	if info, exists := codeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetCodeKind returns the kind of an error code, defaulting to the
// catch-all tool execution bucket
func GetCodeKind(code int) Kind {
	if info, exists := codeRegistry[code]; exists {
		return info.Kind
	}
	return KindToolExecution
}

// GetCodeSeverity returns the severity of an error code
func GetCodeSeverity(code int) Severity {
	if info, exists := codeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}

// DefaultHint returns the actionable next step shown for a kind when the
// constructor did not supply a more specific one.
func DefaultHint(kind Kind) string {
	switch kind {
	case KindServerUnavailable:
		return "start the server and verify its endpoint configuration"
	case KindValidation:
		return "check the tool parameters against its declared schema"
	case KindAuth:
		return "verify the credentials configured for this server"
	case KindRateLimit:
		return "wait a moment before re-requesting"
	case KindNetwork:
		return "check network connectivity to the server and retry"
	default:
		return "inspect the server logs for details"
	}
}
