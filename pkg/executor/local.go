package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// LocalFunc implements a tool in process. The returned value is encoded as
// the result data.
type LocalFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// LocalOptions configures a LocalExecutor
type LocalOptions struct {
	// Handlers maps tool names to implementations. Nil installs DefaultLocalTools.
	Handlers       map[string]LocalFunc
	DefaultTimeout time.Duration
	Logger         logging.Logger
	Metrics        *observability.Metrics
	Tracing        *observability.TracingProvider
}

// DefaultLocalTools returns the tools every builtin server provides:
// echo returns its parameters and noop returns an empty object.
func DefaultLocalTools() map[string]LocalFunc {
	return map[string]LocalFunc{
		"echo": func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"echo": params}, nil
		},
		"noop": func(context.Context, map[string]interface{}) (interface{}, error) {
			return struct{}{}, nil
		},
	}
}

// LocalExecutor serves tools bound to builtin servers without any I/O
type LocalExecutor struct {
	runner

	mu       sync.RWMutex
	handlers map[string]LocalFunc
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor creates an executor
func NewLocalExecutor(opts LocalOptions) *LocalExecutor {
	handlers := opts.Handlers
	if handlers == nil {
		handlers = DefaultLocalTools()
	}
	e := &LocalExecutor{
		runner:   newRunner(opts.DefaultTimeout, RetryPolicy{}, opts.Logger, opts.Metrics, opts.Tracing),
		handlers: make(map[string]LocalFunc, len(handlers)),
	}
	for name, fn := range handlers {
		e.handlers[name] = fn
	}
	return e
}

// Register adds or replaces a local tool
func (e *LocalExecutor) Register(name string, fn LocalFunc) {
	e.mu.Lock()
	e.handlers[name] = fn
	e.mu.Unlock()
}

// Has reports whether name is implemented locally
func (e *LocalExecutor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[name]
	return ok
}

// Names returns the local tool names, sorted
func (e *LocalExecutor) Names() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		out = append(out, name)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute runs the tool in a goroutine bounded by the attempt deadline. A
// handler that ignores its context is abandoned when the deadline passes.
func (e *LocalExecutor) Execute(ctx context.Context, req Request) protocol.ExecutionResult {
	e.mu.RLock()
	fn, ok := e.handlers[req.Tool]
	e.mu.RUnlock()

	req.MaxRetries = 0
	return e.run(ctx, req, func(ctx context.Context) (json.RawMessage, error) {
		if !ok {
			return nil, mcperrors.ToolNotFound(req.Tool).WithServer(req.ServerID, req.Tool)
		}
		return callLocal(ctx, req, fn)
	})
}

type localOutcome struct {
	data json.RawMessage
	err  error
}

func callLocal(ctx context.Context, req Request, fn LocalFunc) (json.RawMessage, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}

	done := make(chan localOutcome, 1)
	go func() {
		var out localOutcome
		defer func() {
			if r := recover(); r != nil {
				out = localOutcome{err: mcperrors.ToolFailed(req.Tool, fmt.Sprintf("panic: %v", r))}
			}
			done <- out
		}()

		v, err := fn(ctx, params)
		if err != nil {
			out.err = err
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			out.err = mcperrors.ToolFailed(req.Tool, "result is not JSON encodable: "+err.Error())
			return
		}
		out.data = data
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
