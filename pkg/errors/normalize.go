package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Normalize converts any error into a *ToolError. Errors already in the
// taxonomy pass through unchanged; everything else is classified by type
// and then by message heuristics, falling back to KindToolExecution.
func Normalize(err error) *ToolError {
	if err == nil {
		return nil
	}

	if te, ok := As(err); ok {
		return te
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, KindNetwork, CodeOperationTimeout, "Operation timed out")
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, KindNetwork, CodeOperationCancelled, "Operation was cancelled")
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(err, KindNetwork, CodeOperationTimeout, "Network timeout: "+err.Error())
		}
		return Wrap(err, KindNetwork, CodeConnectionFailed, "Network error: "+err.Error())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return Wrap(err, KindToolExecution, CodeInvalidResponse, "Invalid JSON: "+err.Error())
	}

	return classifyMessage(err)
}

// messagePatterns are checked in order; the first match wins.
var messagePatterns = []struct {
	kind     Kind
	code     int
	patterns []string
}{
	{KindNetwork, CodeOperationTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindNetwork, CodeConnectionFailed, []string{"network", "connection refused", "connection reset", "no such host", "econnrefused", "broken pipe", "eof"}},
	{KindRateLimit, CodeRateLimited, []string{"rate limit", "too many requests", "throttl", "429"}},
	{KindAuth, CodeUnauthorized, []string{"unauthorized", "forbidden", "invalid token", "credential", "authenticat", "401", "403"}},
	{KindServerUnavailable, CodeServerUnavailable, []string{"not configured", "unavailable", "not started", "503"}},
	{KindValidation, CodeValidationError, []string{"validation", "invalid parameter", "missing required", "invalid argument"}},
}

func classifyMessage(err error) *ToolError {
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, pattern := range p.patterns {
			if strings.Contains(msg, pattern) {
				return Wrap(err, p.kind, p.code, err.Error())
			}
		}
	}
	return Wrap(err, KindToolExecution, CodeInternalError, err.Error())
}

// remoteErrorBody is the structured error body a server may return.
type remoteErrorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
}

// FromHTTPStatus classifies a non-2xx response. Any message or detail field
// in a JSON body is appended to the error text.
func FromHTTPStatus(serverID string, status int, header http.Header, body []byte) *ToolError {
	text := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	if extra := remoteMessage(body); extra != "" {
		text = fmt.Sprintf("%s: %s", text, extra)
	}

	var e *ToolError
	switch {
	case status == http.StatusUnauthorized:
		e = New(KindAuth, CodeUnauthorized, text)
	case status == http.StatusForbidden:
		e = New(KindAuth, CodeForbidden, text)
	case status == http.StatusTooManyRequests:
		e = New(KindRateLimit, CodeRateLimited, text)
		if ra := retryAfter(header); ra > 0 {
			e = e.WithHint(fmt.Sprintf("wait %s before re-requesting", ra))
		}
	case status == http.StatusServiceUnavailable:
		e = New(KindServerUnavailable, CodeServerUnavailable, text)
	case status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		e = New(KindNetwork, CodeTransportError, text)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		e = New(KindValidation, CodeValidationError, text)
	default:
		e = New(KindToolExecution, CodeToolFailed, text)
	}

	return e.WithServer(serverID, "").WithData(&TransportErrorData{
		Transport:  "http",
		Operation:  "execute",
		StatusCode: status,
	})
}

// maxRemoteMessage caps how much of a non-JSON error body is quoted
const maxRemoteMessage = 200

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return strings.ToValidUTF8(string(b[:n]), "\uFFFD")
}

func remoteMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}
	var rb remoteErrorBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return truncate(body, maxRemoteMessage)
	}
	parts := make([]string, 0, 3)
	if rb.Message != "" {
		parts = append(parts, rb.Message)
	}
	for _, raw := range []json.RawMessage{rb.Detail, rb.Error} {
		if s := rawText(raw); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ": ")
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// FromRPC converts a JSON-RPC error object into a ToolError. Codes from the
// registry keep their kind; unknown codes fall into the catch-all bucket.
func FromRPC(code int, message string, data interface{}) *ToolError {
	e := New(GetCodeKind(code), code, message)
	if data != nil {
		e = e.WithData(data)
	}
	return e
}

// IsRetryable reports whether a failed call may be re-issued by an
// automatic retry policy. Validation, auth and tool failures never are.
func IsRetryable(err error) bool {
	te := Normalize(err)
	if te == nil {
		return false
	}
	switch te.kind {
	case KindNetwork:
		return te.code != CodeOperationCancelled
	case KindRateLimit:
		return true
	case KindServerUnavailable:
		return te.code == CodeServerUnavailable
	default:
		return false
	}
}

// Combine merges multiple errors into one ToolError. The first error's
// kind is kept; nil entries are ignored.
func Combine(errs []error) *ToolError {
	valid := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			valid = append(valid, err)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return Normalize(valid[0])
	}

	first := Normalize(valid[0])
	messages := make([]string, len(valid))
	for i, err := range valid {
		messages[i] = err.Error()
	}
	return New(first.kind, first.code, fmt.Sprintf("%d errors occurred: %s", len(valid), strings.Join(messages, "; "))).
		WithData(map[string]interface{}{"count": len(valid)})
}
