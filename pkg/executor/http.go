package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/toolmesh/pkg/auth"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 10 << 20

// CredentialsFunc returns the outbound credentials for a server
type CredentialsFunc func(serverID string) auth.CredentialProvider

// HTTPOptions configures an HTTPExecutor
type HTTPOptions struct {
	// Client performs requests; nil builds one over a logging and tracing transport
	Client         *http.Client
	Credentials    CredentialsFunc
	DefaultTimeout time.Duration
	Retry          RetryPolicy
	Logger         logging.Logger
	Metrics        *observability.Metrics
	Tracing        *observability.TracingProvider
}

// HTTPExecutor calls POST {base}/execute with body {tool, parameters}
type HTTPExecutor struct {
	runner
	client      *http.Client
	credentials CredentialsFunc
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor
func NewHTTPExecutor(opts HTTPOptions) *HTTPExecutor {
	r := newRunner(opts.DefaultTimeout, opts.Retry, opts.Logger, opts.Metrics, opts.Tracing)
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: logging.NewTransport(observability.NewTransport(nil, opts.Tracing), r.logger),
		}
	}
	return &HTTPExecutor{runner: r, client: client, credentials: opts.Credentials}
}

// Execute runs the tool. Validation failures return before any request is
// made.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) protocol.ExecutionResult {
	return e.run(ctx, req, func(ctx context.Context) (json.RawMessage, error) {
		return e.post(ctx, req)
	})
}

func (e *HTTPExecutor) post(ctx context.Context, req Request) (json.RawMessage, error) {
	base := strings.TrimRight(req.HTTPBaseURL, "/")
	if base == "" {
		return nil, mcperrors.ServerNotConfigured(req.ServerID)
	}

	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(protocol.ExecuteRequest{Tool: req.Tool, Parameters: params})
	if err != nil {
		return nil, mcperrors.Wrap(err, mcperrors.KindValidation, mcperrors.CodeInvalidParams, "Parameters are not JSON encodable")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, mcperrors.InvalidConfig("http_url", err.Error()).WithServer(req.ServerID, req.Tool)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if e.credentials != nil {
		if creds := e.credentials(req.ServerID); creds != nil {
			if err := creds.Apply(ctx, httpReq); err != nil {
				return nil, mcperrors.Unauthorized(req.ServerID, err.Error())
			}
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mcperrors.FromHTTPStatus(req.ServerID, resp.StatusCode, resp.Header, data)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, mcperrors.InvalidResponse("execute "+req.Tool, nil).
			WithDetail("response body is not JSON")
	}
	return json.RawMessage(data), nil
}
