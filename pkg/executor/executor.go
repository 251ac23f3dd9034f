// Package executor performs single tool invocations against tool servers.
//
// Every invocation validates its parameters against the tool's schema
// before any I/O, runs each attempt under its own deadline, and retries
// only retryable failures with capped exponential backoff. The outcome is
// always a protocol.ExecutionResult; failures never escape as raw errors.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
	"github.com/ajitpratap0/toolmesh/pkg/schema"
)

// Retry policy defaults
const (
	DefaultTimeout         = 30 * time.Second
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0
)

// Request describes one tool invocation
type Request struct {
	ServerID    string
	Tool        string
	Parameters  map[string]interface{}
	HTTPBaseURL string
	// Timeout bounds each attempt; zero uses the executor default
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first; zero disables retry
	MaxRetries int
	// Schema is the tool's declared parameters; nil skips validation
	Schema schema.Schema
}

// Executor invokes a tool and reports the outcome
type Executor interface {
	Execute(ctx context.Context, req Request) protocol.ExecutionResult
}

// RetryPolicy shapes the backoff between attempts
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// RandomizationFactor spreads retries; 0.1 gives +/-10%
	RandomizationFactor float64
}

// DefaultRetryPolicy returns 200ms doubling to a 5s cap with 10% jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: 0.1,
	}
}

func (p RetryPolicy) backOff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// attemptFunc performs one attempt under ctx, which carries the attempt
// deadline.
type attemptFunc func(ctx context.Context) (json.RawMessage, error)

// runner holds what every executor shares: validation, the retry loop,
// deadlines, logging, metrics and tracing.
type runner struct {
	defaultTimeout time.Duration
	retry          RetryPolicy
	logger         logging.Logger
	metrics        *observability.Metrics
	tracing        *observability.TracingProvider
}

func newRunner(timeout time.Duration, retry RetryPolicy, logger logging.Logger, metrics *observability.Metrics, tracing *observability.TracingProvider) runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retry.InitialInterval <= 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return runner{
		defaultTimeout: timeout,
		retry:          retry,
		logger:         logger.WithFields(logging.Component("executor")),
		metrics:        metrics,
		tracing:        tracing,
	}
}

// Validate checks params against s. It returns nil when they conform.
func Validate(s schema.Schema, params map[string]interface{}) *mcperrors.ToolError {
	if s == nil {
		return nil
	}
	return schema.Validate(s, params).ToError()
}

func (r runner) run(ctx context.Context, req Request, attempt attemptFunc) protocol.ExecutionResult {
	start := time.Now()
	executionID := uuid.New().String()
	logger := r.logger.WithContext(ctx).WithFields(
		logging.Server(req.ServerID),
		logging.Tool(req.Tool),
		logging.String("execution_id", executionID),
	)

	ctx, span := r.tracing.StartToolSpan(ctx, req.ServerID, req.Tool, executionID)
	defer span.End()

	finish := func(data json.RawMessage, err error, attempts int) protocol.ExecutionResult {
		elapsed := time.Since(start)
		var res protocol.ExecutionResult
		if err != nil {
			res = protocol.Failed(req.Tool, req.ServerID, err, elapsed)
			r.tracing.RecordError(ctx, res.Error)
			r.metrics.RecordToolCall(req.ServerID, req.Tool, false, string(res.Error.Kind()), elapsed)
			logger.WithError(res.Error).Warn("Tool execution failed",
				logging.Int64("duration_ms", res.ExecutionTimeMs),
				logging.Int("attempts", attempts),
			)
		} else {
			res = protocol.Succeeded(req.Tool, req.ServerID, data, elapsed)
			r.metrics.RecordToolCall(req.ServerID, req.Tool, true, "", elapsed)
			logger.Debug("Tool executed",
				logging.Int64("duration_ms", res.ExecutionTimeMs),
				logging.Int("attempts", attempts),
			)
		}
		res.ExecutionID = executionID
		res.Attempts = attempts
		return res
	}

	if verr := Validate(req.Schema, req.Parameters); verr != nil {
		return finish(nil, verr, 0)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		data     json.RawMessage
		lastErr  error
		attempts int
	)
	op := func() error {
		attempts++
		if attempts > 1 {
			r.metrics.RecordRetry(req.ServerID, req.Tool)
		}

		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := attempt(actx)
		if err == nil {
			data = out
			return nil
		}
		lastErr = attemptError(ctx, actx, err, req.Tool, timeout)
		if !mcperrors.IsRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).Info("Retrying tool call", logging.Duration("backoff", wait), logging.Int("attempt", attempts))
	}

	err := backoff.RetryNotify(op, r.retry.backOff(ctx, maxRetries), notify)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			lastErr = mcperrors.Cancelled("execute " + req.Tool)
		}
		return finish(nil, lastErr, attempts)
	}
	return finish(data, nil, attempts)
}

// attemptError classifies an attempt failure. A deadline hit by the attempt
// context, rather than the caller's, is reported as a timeout.
func attemptError(parent, attempt context.Context, err error, tool string, timeout time.Duration) *mcperrors.ToolError {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return mcperrors.Cancelled("execute " + tool)
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		return mcperrors.Timeout("execute "+tool, timeout)
	}
	return mcperrors.Normalize(err)
}
