// Package coordinator ties the tool registry, connections, executors and
// health monitor together behind one explicitly constructed value.
//
// Lifecycle: New builds the coordinator without starting anything, Init
// starts periodic health checks, and Shutdown stops them and closes every
// connection. Servers are started lazily the first time one of their tools
// is executed, or explicitly with StartServer or StartAll.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/toolmesh/pkg/auth"
	"github.com/ajitpratap0/toolmesh/pkg/config"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/executor"
	"github.com/ajitpratap0/toolmesh/pkg/health"
	"github.com/ajitpratap0/toolmesh/pkg/history"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
	"github.com/ajitpratap0/toolmesh/pkg/registry"
	"github.com/ajitpratap0/toolmesh/pkg/transport"
)

const (
	defaultStartConcurrency = 4
	historyWriteTimeout     = 5 * time.Second
)

// Resolver supplies server descriptors. *config.Resolver satisfies it.
type Resolver interface {
	ResolveStrict(id string) (config.ServerDescriptor, error)
	ServerIDs() []string
}

// Options configures a Coordinator
type Options struct {
	Resolver Resolver
	// Tools is the tool catalog. Every tool must name a known server.
	Tools []protocol.ToolDescriptor
	// Servers declares server ids beyond those the resolver knows about
	Servers []string

	// HealthInterval is the periodic check interval (default 30s)
	HealthInterval time.Duration
	// HealthSchedule overrides HealthInterval when set
	HealthSchedule         cron.Schedule
	HealthTimeout          time.Duration
	MaxConsecutiveFailures int

	// HTTPClient is shared by tool calls and probes; nil builds one per component
	HTTPClient  *http.Client
	Dialer      transport.Dialer
	DialTimeout time.Duration
	Retry       executor.RetryPolicy

	// Builtin implements the tools of builtin:// servers; nil installs
	// executor.DefaultLocalTools. A catalog tool bound to a builtin server
	// must have an entry here.
	Builtin map[string]executor.LocalFunc

	// History, when set, receives every execution and probe. Shutdown closes it.
	History history.Store
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracing *observability.TracingProvider
}

// StartResult reports the outcome of starting one server
type StartResult struct {
	ServerID string                    `json:"serverId"`
	Success  bool                      `json:"success"`
	Status   protocol.ConnectionStatus `json:"status"`
	Health   *protocol.HealthRecord    `json:"health,omitempty"`
	Error    *mcperrors.ToolError      `json:"error,omitempty"`
}

// SystemHealth is a read-only view across every server
type SystemHealth struct {
	ConfiguredServers int                     `json:"configuredServers"`
	ActiveServers     int                     `json:"activeServers"`
	TotalTools        int                     `json:"totalTools"`
	MonitorRunning    bool                    `json:"monitorRunning"`
	Summary           health.Summary          `json:"summary"`
	Servers           []protocol.HealthRecord `json:"servers"`
	Connections       []transport.Connection  `json:"connections"`
}

// Coordinator routes tool calls to servers and tracks their health
type Coordinator struct {
	opts     Options
	logger   logging.Logger
	registry *registry.Registry
	servers  []string

	conns     *transport.ConnectionManager
	monitor   *health.Monitor
	httpExec  *executor.HTTPExecutor
	rpcExec   *executor.RPCExecutor
	localExec *executor.LocalExecutor

	starts singleflight.Group

	mu          sync.RWMutex
	active      map[string]config.ServerDescriptor
	credentials map[string]auth.CredentialProvider
	initialized bool
	closed      bool
}

// New validates the catalog and builds a coordinator. Nothing is started.
func New(opts Options) (*Coordinator, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("coordinator: resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = config.DefaultHealthInterval
	}

	servers := serverSet(opts.Resolver.ServerIDs(), opts.Servers)
	reg, err := registry.New(servers, opts.Tools)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		opts:        opts,
		logger:      opts.Logger.WithFields(logging.Component("coordinator")),
		registry:    reg,
		servers:     servers,
		active:      make(map[string]config.ServerDescriptor),
		credentials: make(map[string]auth.CredentialProvider),
	}

	dialer := opts.Dialer
	if dialer == nil {
		wd := transport.NewWebSocketDialer(c.dialHeaders)
		wd.HTTPClient = opts.HTTPClient
		dialer = wd
	}
	c.conns = transport.NewConnectionManager(transport.Options{
		Dialer:       dialer,
		DialTimeout:  opts.DialTimeout,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		OnTransition: c.onTransition,
	})

	c.monitor = health.NewMonitor(health.Options{
		Resolver:               opts.Resolver,
		Client:                 opts.HTTPClient,
		Credentials:            c.credentialsFor,
		Timeout:                opts.HealthTimeout,
		MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
		Logger:                 opts.Logger,
		Metrics:                opts.Metrics,
		Tracing:                opts.Tracing,
		OnRecord:               c.recordHealth,
	})
	c.monitor.Register(servers...)

	c.httpExec = executor.NewHTTPExecutor(executor.HTTPOptions{
		Client:      opts.HTTPClient,
		Credentials: c.credentialsFor,
		Retry:       opts.Retry,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
		Tracing:     opts.Tracing,
	})
	c.rpcExec = executor.NewRPCExecutor(executor.RPCOptions{
		Connections: c.conns,
		Retry:       opts.Retry,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
		Tracing:     opts.Tracing,
	})

	c.localExec = executor.NewLocalExecutor(executor.LocalOptions{
		Handlers: opts.Builtin,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Tracing:  opts.Tracing,
	})
	if err := c.checkBuiltinTools(); err != nil {
		return nil, err
	}

	opts.Metrics.SetActiveServers(0)
	return c, nil
}

// checkBuiltinTools rejects catalog tools bound to a builtin server that
// has no local implementation.
func (c *Coordinator) checkBuiltinTools() error {
	for _, tool := range c.registry.Tools() {
		desc, err := c.opts.Resolver.ResolveStrict(tool.ServerID)
		if err != nil || !desc.Builtin() {
			continue
		}
		if !c.localExec.Has(tool.Name) {
			return mcperrors.InvalidConfig("tools."+tool.Name,
				fmt.Sprintf("server %s is builtin but no local implementation exists (have %s)",
					tool.ServerID, strings.Join(c.localExec.Names(), ", ")))
		}
	}
	return nil
}

func serverSet(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, id := range list {
			if id = registry.NormalizeID(id); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Init starts periodic health checks over every configured server.
// Calling it again is a no-op.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: already shut down")
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	if err := c.startMonitoring(); err != nil {
		return err
	}
	c.logger.Info("Coordinator initialized",
		logging.Int("servers", len(c.servers)),
		logging.Int("tools", c.registry.Len()),
	)
	return nil
}

func (c *Coordinator) startMonitoring() error {
	if len(c.servers) == 0 {
		return nil
	}
	if c.opts.HealthSchedule != nil {
		return c.monitor.StartSchedule(c.servers, c.opts.HealthSchedule)
	}
	return c.monitor.StartPeriodicChecks(c.servers, c.opts.HealthInterval)
}

// RestartHealthMonitoring re-enables periodic checks, including after the
// monitor disabled itself on consecutive failures.
func (c *Coordinator) RestartHealthMonitoring() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("coordinator: already shut down")
	}
	c.logger.Info("Restarting health monitoring")
	return c.startMonitoring()
}

// Shutdown stops health checks, closes every connection and closes the
// history store. It is safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	servers := make([]string, 0, len(c.active))
	for id := range c.active {
		servers = append(servers, id)
	}
	c.active = make(map[string]config.ServerDescriptor)
	c.mu.Unlock()
	c.opts.Metrics.SetActiveServers(0)

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error {
			c.monitor.Stop()
			return nil
		})
		g.Go(func() error {
			for _, id := range servers {
				c.rpcExec.Forget(id)
			}
			c.conns.CloseAll()
			return nil
		})
		_ = g.Wait()

		if c.opts.History != nil {
			done <- c.opts.History.Close()
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		c.logger.Info("Coordinator shut down")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartServer resolves, connects and probes id. The server becomes active
// only when the probe reports healthy; any earlier failure leaves it
// inactive and disconnected. Concurrent calls for one id share one attempt,
// which runs detached from any single caller's cancellation and is bounded
// by the dial and probe timeouts. A caller whose ctx ends stops waiting.
func (c *Coordinator) StartServer(ctx context.Context, id string) StartResult {
	id = registry.NormalizeID(id)
	ch := c.starts.DoChan(id, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.startTimeout())
		defer cancel()
		return c.startServer(sctx, id), nil
	})

	select {
	case r := <-ch:
		return r.Val.(StartResult)
	case <-ctx.Done():
		err := mcperrors.Cancelled("start server " + id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = mcperrors.Normalize(ctx.Err())
		}
		return StartResult{ServerID: id, Status: c.conns.Status(id), Error: err.WithServer(id, "")}
	}
}

// startTimeout bounds one shared start attempt: a dial plus a probe
func (c *Coordinator) startTimeout() time.Duration {
	dial := c.opts.DialTimeout
	if dial <= 0 {
		dial = transport.DefaultDialTimeout
	}
	probe := c.opts.HealthTimeout
	if probe <= 0 {
		probe = health.DefaultTimeout
	}
	return dial + probe
}

func (c *Coordinator) startServer(ctx context.Context, id string) StartResult {
	logger := c.logger.WithFields(logging.Server(id))
	ctx, span := c.opts.Tracing.StartServerSpan(ctx, "start", id)
	defer span.End()

	fail := func(err *mcperrors.ToolError, rec *protocol.HealthRecord) StartResult {
		c.opts.Tracing.RecordError(ctx, err)
		logger.WithError(err).Warn("Server failed to start")
		return StartResult{ServerID: id, Status: c.conns.Status(id), Health: rec, Error: err}
	}

	c.mu.RLock()
	closed := c.closed
	_, isActive := c.active[id]
	c.mu.RUnlock()
	if closed {
		return fail(mcperrors.ServerUnavailable(id, fmt.Errorf("coordinator is shut down")), nil)
	}
	if isActive && c.conns.IsConnected(id) {
		rec, _ := c.monitor.Get(id)
		return StartResult{ServerID: id, Success: true, Status: protocol.StatusConnected, Health: &rec}
	}

	desc, err := c.opts.Resolver.ResolveStrict(id)
	if err != nil {
		// Records why the server is unknown without touching the network
		rec := c.monitor.CheckHealth(ctx, id)
		return fail(asUnavailable(id, err), &rec)
	}

	if !c.conns.Connect(ctx, id, desc.Endpoint) {
		return fail(mcperrors.ServerUnavailable(id,
			mcperrors.ConnectionFailed("websocket", desc.Endpoint, nil)), nil)
	}

	rec := c.monitor.CheckHealth(ctx, id)
	if !rec.Healthy() {
		c.conns.Disconnect(id)
		return fail(mcperrors.ServerUnavailable(id, fmt.Errorf("health check reported %s", rec.Status)).
			WithDetail(rec.Error), &rec)
	}

	c.mu.Lock()
	if c.closed || !c.conns.IsConnected(id) {
		c.mu.Unlock()
		c.conns.Disconnect(id)
		return fail(mcperrors.ServerUnavailable(id, fmt.Errorf("connection closed during start")), &rec)
	}
	c.active[id] = desc
	n := len(c.active)
	c.mu.Unlock()
	c.opts.Metrics.SetActiveServers(n)

	logger.Info("Server started", logging.String("mode", string(desc.Mode)))
	return StartResult{ServerID: id, Success: true, Status: protocol.StatusConnected, Health: &rec}
}

func asUnavailable(id string, err error) *mcperrors.ToolError {
	te := mcperrors.Normalize(err)
	if te.Kind() == mcperrors.KindServerUnavailable {
		return te.WithServer(id, "")
	}
	return mcperrors.ServerUnavailable(id, te)
}

// StopServer disconnects id and removes it from the active set. Stopping
// an unknown or stopped server is a no-op.
func (c *Coordinator) StopServer(id string) {
	id = registry.NormalizeID(id)
	c.deactivate(id)
	c.rpcExec.Forget(id)
	c.conns.Disconnect(id)
}

func (c *Coordinator) deactivate(id string) {
	c.mu.Lock()
	_, ok := c.active[id]
	delete(c.active, id)
	n := len(c.active)
	c.mu.Unlock()
	if ok {
		c.opts.Metrics.SetActiveServers(n)
		c.logger.Info("Server deactivated", logging.Server(id))
	}
}

// onTransition drops a server from the active set when its connection
// ends, so the next tool call starts it again.
func (c *Coordinator) onTransition(id string, from, to protocol.ConnectionStatus) {
	if from == protocol.StatusConnected && to != protocol.StatusConnected {
		c.deactivate(id)
	}
}

// StartAll starts every configured server concurrently and returns the
// results ordered by server id.
func (c *Coordinator) StartAll(ctx context.Context) []StartResult {
	results := make([]StartResult, len(c.servers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultStartConcurrency)
	for i, id := range c.servers {
		i, id := i, id
		g.Go(func() error {
			results[i] = c.StartServer(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExecuteTool runs the named tool. Unknown tools and invalid parameters
// fail before any network activity; a server that is not active is
// started once before the call.
func (c *Coordinator) ExecuteTool(ctx context.Context, name string, params map[string]interface{}) protocol.ExecutionResult {
	start := time.Now()

	tool, err := c.registry.Get(name)
	if err != nil {
		return c.finish(ctx, protocol.Failed(name, "", err, time.Since(start)))
	}
	if verr := executor.Validate(tool.Parameters, params); verr != nil {
		return c.finish(ctx, protocol.Failed(name, tool.ServerID, verr, time.Since(start)))
	}
	params = tool.Parameters.ApplyDefaults(params)

	c.mu.RLock()
	desc, ok := c.active[tool.ServerID]
	c.mu.RUnlock()
	if !ok {
		res := c.StartServer(ctx, tool.ServerID)
		if !res.Success {
			return c.finish(ctx, protocol.Failed(name, tool.ServerID, res.Error, time.Since(start)))
		}
		c.mu.RLock()
		desc, ok = c.active[tool.ServerID]
		c.mu.RUnlock()
		if !ok {
			return c.finish(ctx, protocol.Failed(name, tool.ServerID,
				mcperrors.ServerUnavailable(tool.ServerID, fmt.Errorf("server stopped after start")), time.Since(start)))
		}
	}

	req := executor.Request{
		ServerID:    tool.ServerID,
		Tool:        tool.Name,
		Parameters:  params,
		HTTPBaseURL: desc.HTTPBaseURL,
		Timeout:     desc.Timeout,
		Schema:      tool.Parameters,
	}
	// Retries could duplicate side effects, so only idempotent tools get them
	if tool.Idempotent {
		req.MaxRetries = desc.MaxRetries
	}

	var exec executor.Executor = c.httpExec
	switch {
	case desc.Builtin():
		exec = c.localExec
	case desc.Push():
		exec = c.rpcExec
	}
	res := exec.Execute(ctx, req)
	if res.ServerID == "" {
		res.ServerID = tool.ServerID
	}
	if res.ToolName == "" {
		res.ToolName = tool.Name
	}
	return c.finish(ctx, res)
}

func (c *Coordinator) finish(ctx context.Context, res protocol.ExecutionResult) protocol.ExecutionResult {
	if c.opts.History == nil {
		return res
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := c.opts.History.RecordExecution(hctx, res); err != nil {
		c.logger.WithError(err).Warn("Failed to record execution", logging.Tool(res.ToolName))
	}
	return res
}

func (c *Coordinator) recordHealth(rec protocol.HealthRecord) {
	if c.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := c.opts.History.RecordHealth(ctx, rec); err != nil {
		c.logger.WithError(err).Warn("Failed to record health check", logging.Server(rec.ServerID))
	}
}

// GetSystemHealth composes the current state. It never probes.
func (c *Coordinator) GetSystemHealth() SystemHealth {
	c.mu.RLock()
	active := len(c.active)
	c.mu.RUnlock()

	return SystemHealth{
		ConfiguredServers: len(c.servers),
		ActiveServers:     active,
		TotalTools:        c.registry.Len(),
		MonitorRunning:    c.monitor.Running(),
		Summary:           c.monitor.Summary(),
		Servers:           c.monitor.Records(),
		Connections:       c.conns.Snapshot(),
	}
}

// CheckHealth probes one server now
func (c *Coordinator) CheckHealth(ctx context.Context, id string) protocol.HealthRecord {
	return c.monitor.CheckHealth(ctx, registry.NormalizeID(id))
}

// Tools returns the registered tools sorted by name
func (c *Coordinator) Tools() []protocol.ToolDescriptor {
	return c.registry.Tools()
}

// Servers returns the configured server ids
func (c *Coordinator) Servers() []string {
	return append([]string(nil), c.servers...)
}

// ActiveServers returns the started server ids, sorted
func (c *Coordinator) ActiveServers() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.active))
	for id := range c.active {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// credentialsFor returns the cached provider for a server. JWT providers
// cache minted tokens, so one provider is kept per server.
func (c *Coordinator) credentialsFor(serverID string) auth.CredentialProvider {
	c.mu.RLock()
	p, ok := c.credentials[serverID]
	c.mu.RUnlock()
	if ok {
		return p
	}

	desc, err := c.opts.Resolver.ResolveStrict(serverID)
	if err != nil {
		return nil
	}
	p = auth.FromCredentials(serverID, desc.Credentials)

	c.mu.Lock()
	if existing, ok := c.credentials[serverID]; ok {
		p = existing
	} else {
		c.credentials[serverID] = p
	}
	c.mu.Unlock()
	return p
}

func (c *Coordinator) dialHeaders(ctx context.Context, serverID string) (http.Header, error) {
	p := c.credentialsFor(serverID)
	if p == nil {
		return nil, nil
	}
	return p.Headers(ctx)
}
