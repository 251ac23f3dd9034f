package logging

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// CronAdapter adapts the structured logger to robfig/cron's Logger.
// Scheduler chatter is logged at debug level; job errors at error level.
type CronAdapter struct {
	logger Logger
}

var _ cron.Logger = (*CronAdapter)(nil)

// NewCronAdapter creates a new cron adapter
func NewCronAdapter(logger Logger) *CronAdapter {
	return &CronAdapter{logger: logger.WithFields(Component("scheduler"))}
}

// Info implements cron.Logger
func (a *CronAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, pairsToFields(keysAndValues)...)
}

// Error implements cron.Logger
func (a *CronAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.WithError(err).Error(msg, pairsToFields(keysAndValues)...)
}

func pairsToFields(kv []interface{}) []Field {
	fields := make([]Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		fields = append(fields, Any("extra", kv[len(kv)-1]))
	}
	return fields
}

// RequestIDHeader carries the request id to tool servers
const RequestIDHeader = "X-Request-ID"

// Transport is an http.RoundTripper that propagates the request id from the
// context (generating one if absent) and logs each outbound call.
type Transport struct {
	Base   http.RoundTripper
	Logger Logger
}

// NewTransport wraps base (http.DefaultTransport if nil)
func NewTransport(base http.RoundTripper, logger Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = RequestIDFromContext(req.Context())
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	out.Header.Set(RequestIDHeader, requestID)

	logger := t.Logger.WithFields(
		String("request_id", requestID),
		String("method", req.Method),
		String("url", req.URL.Redacted()),
	)

	start := time.Now()
	resp, err := t.Base.RoundTrip(out)
	duration := time.Since(start)
	if err != nil {
		logger.WithError(err).Debug("Outbound request failed", Duration("duration", duration))
		return nil, err
	}

	logger.Debug("Outbound request completed",
		Int("status", resp.StatusCode),
		Duration("duration", duration),
	)
	return resp, nil
}
