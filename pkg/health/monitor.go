// Package health probes tool servers and keeps one HealthRecord per server.
//
// A Monitor checks servers on demand with CheckHealth and periodically on a
// cron schedule. Periodic checking disables itself once the configured
// number of probe failures occurs in a row across all servers; it stays off
// until StartPeriodicChecks or StartSchedule is called again.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/toolmesh/pkg/auth"
	"github.com/ajitpratap0/toolmesh/pkg/config"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// Defaults
const (
	DefaultTimeout                = 5 * time.Second
	DefaultMaxConsecutiveFailures = 3
	defaultConcurrency            = 8
)

// Resolver supplies server descriptors. *config.Resolver satisfies it.
type Resolver interface {
	ResolveStrict(id string) (config.ServerDescriptor, error)
}

// Options configures a Monitor
type Options struct {
	Resolver Resolver
	// Client performs probes; nil uses a client over logging.Transport
	Client      *http.Client
	Credentials func(serverID string) auth.CredentialProvider
	// Timeout bounds each probe
	Timeout                time.Duration
	MaxConsecutiveFailures int
	// Concurrency caps parallel probes within one round
	Concurrency int
	Logger      logging.Logger
	Metrics     *observability.Metrics
	Tracing     *observability.TracingProvider
	// OnRecord receives every record produced by a probe
	OnRecord func(protocol.HealthRecord)
}

// Summary aggregates the current records
type Summary struct {
	Total                 int     `json:"total"`
	Healthy               int     `json:"healthy"`
	Unhealthy             int     `json:"unhealthy"`
	Unknown               int     `json:"unknown"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// record is one server's entry, guarded by its own lock so probes for
// different servers never contend.
type record struct {
	mu  sync.Mutex
	rec protocol.HealthRecord
}

// Monitor tracks server health
type Monitor struct {
	opts   Options
	client *http.Client
	logger logging.Logger

	mu      sync.RWMutex
	records map[string]*record

	// runMu serializes StartSchedule and Stop
	runMu sync.Mutex

	// loopMu guards the scheduler state and the failure counter
	loopMu   sync.Mutex
	failures int
	sched    *cron.Cron
	cancel   context.CancelFunc
	ids      []string
	// initialDone is closed when the immediate round of the latest run
	// ends; cron does not wait for it
	initialDone chan struct{}
}

// NewMonitor creates a monitor
func NewMonitor(opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	logger := opts.Logger.WithFields(logging.Component("health"))

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: logging.NewTransport(observability.NewTransport(nil, opts.Tracing), logger),
		}
	}

	return &Monitor{
		opts:    opts,
		client:  client,
		logger:  logger,
		records: make(map[string]*record),
	}
}

// Register seeds an unknown record for each id not yet tracked
func (m *Monitor) Register(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.records[id]; !ok {
			m.records[id] = &record{rec: protocol.HealthRecord{ServerID: id, Status: protocol.HealthUnknown}}
		}
	}
}

func (m *Monitor) entry(id string) *record {
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()
	if ok {
		return r
	}
	m.Register(id)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id]
}

// outcome classifies a probe for the failure budget
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeSkipped is an unconfigured server; it neither resets nor
	// consumes the budget
	outcomeSkipped
)

// CheckHealth probes id once and stores the result. Probe failures are
// recorded, never returned.
func (m *Monitor) CheckHealth(ctx context.Context, id string) protocol.HealthRecord {
	rec, out := m.probe(ctx, id)

	e := m.entry(id)
	e.mu.Lock()
	e.rec = rec
	e.mu.Unlock()

	m.loopMu.Lock()
	switch out {
	case outcomeSuccess:
		m.failures = 0
	case outcomeFailure:
		m.failures++
	}
	m.loopMu.Unlock()

	if m.opts.OnRecord != nil {
		m.opts.OnRecord(rec)
	}
	return rec
}

func (m *Monitor) probe(ctx context.Context, id string) (protocol.HealthRecord, outcome) {
	start := time.Now()
	rec := protocol.HealthRecord{ServerID: id, Status: protocol.HealthUnknown, LastCheckedAt: start}
	logger := m.logger.WithFields(logging.Server(id))

	ctx, span := m.opts.Tracing.StartProbeSpan(ctx, id)
	defer span.End()

	finish := func(status protocol.HealthStatus, err error, out outcome) (protocol.HealthRecord, outcome) {
		elapsed := time.Since(start)
		rec.Status = status
		if err != nil {
			rec.Error = err.Error()
			m.opts.Tracing.RecordError(ctx, err)
		}
		if status == protocol.HealthHealthy {
			ms := elapsed.Milliseconds()
			rec.ResponseTimeMs = &ms
		}
		m.opts.Metrics.RecordProbe(id, string(status), elapsed)
		if out == outcomeFailure {
			logger.WithError(err).Warn("Health probe failed", logging.String("status", string(status)))
		} else {
			logger.Debug("Health probe completed", logging.String("status", string(status)), logging.Duration("duration", elapsed))
		}
		return rec, out
	}

	if m.opts.Resolver == nil {
		return finish(protocol.HealthUnknown, mcperrors.ServerNotConfigured(id), outcomeSkipped)
	}
	desc, err := m.opts.Resolver.ResolveStrict(id)
	if err != nil {
		return finish(protocol.HealthUnknown, err, outcomeSkipped)
	}
	if desc.Builtin() {
		return finish(protocol.HealthHealthy, nil, outcomeSuccess)
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	url := strings.TrimRight(desc.HTTPBaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return finish(protocol.HealthUnknown, mcperrors.InvalidConfig("http_url", err.Error()), outcomeFailure)
	}
	if m.opts.Credentials != nil {
		if creds := m.opts.Credentials(id); creds != nil {
			if err := creds.Apply(pctx, req); err != nil {
				return finish(protocol.HealthUnknown, mcperrors.Unauthorized(id, err.Error()), outcomeFailure)
			}
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return finish(protocol.HealthUnknown, mcperrors.Cancelled("health probe"), outcomeSkipped)
		}
		if pctx.Err() == context.DeadlineExceeded {
			return finish(protocol.HealthUnknown, mcperrors.Timeout("health probe", m.opts.Timeout), outcomeFailure)
		}
		return finish(protocol.HealthUnknown, mcperrors.Normalize(err), outcomeFailure)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return finish(protocol.HealthUnhealthy, mcperrors.FromHTTPStatus(id, resp.StatusCode, resp.Header, body), outcomeFailure)
	}
	return finish(protocol.HealthHealthy, nil, outcomeSuccess)
}

// StartPeriodicChecks checks ids immediately and then every interval.
// A running loop is replaced.
func (m *Monitor) StartPeriodicChecks(ids []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("health interval must be positive, got %s", interval)
	}
	return m.StartSchedule(ids, Every(interval))
}

// StartSchedule checks ids immediately and then on every activation of
// schedule. A running loop is replaced.
func (m *Monitor) StartSchedule(ids []string, schedule cron.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("health schedule is required")
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.stop()
	m.Register(ids...)

	adapter := logging.NewCronAdapter(m.logger)
	c := cron.New(
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	entryID := c.Schedule(schedule, cron.FuncJob(func() { m.round(ctx, c) }))
	initialDone := make(chan struct{})

	m.loopMu.Lock()
	m.failures = 0
	m.sched = c
	m.cancel = cancel
	m.ids = append([]string(nil), ids...)
	m.initialDone = initialDone
	m.loopMu.Unlock()

	m.opts.Metrics.SetMonitorRunning(true)
	m.logger.Info("Periodic health checks started", logging.Int("servers", len(ids)))

	c.Start()
	// The immediate round goes through the scheduler's job chain so it
	// never overlaps a scheduled one.
	wrapped := c.Entry(entryID).WrappedJob
	go func() {
		defer close(initialDone)
		wrapped.Run()
	}()
	return nil
}

// round probes every monitored server once, stopping early when the
// failure budget runs out.
func (m *Monitor) round(ctx context.Context, c *cron.Cron) {
	m.loopMu.Lock()
	ids := m.ids
	m.loopMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, id := range ids {
		id := id
		if gctx.Err() != nil || m.exhausted() {
			break
		}
		g.Go(func() error {
			if m.exhausted() {
				return nil
			}
			m.CheckHealth(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil && m.exhausted() {
		m.disable(c)
	}
}

func (m *Monitor) exhausted() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.failures >= m.opts.MaxConsecutiveFailures
}

// disable stops scheduling from inside a job. It must not wait for the
// scheduler because the calling job is one of its running jobs.
func (m *Monitor) disable(c *cron.Cron) {
	m.loopMu.Lock()
	if m.sched != c {
		m.loopMu.Unlock()
		return
	}
	failures := m.failures
	cancel := m.cancel
	m.sched = nil
	m.cancel = nil
	m.loopMu.Unlock()

	c.Stop()
	cancel()
	m.opts.Metrics.SetMonitorRunning(false)
	m.logger.Warn("Periodic health checks disabled after consecutive failures",
		logging.Int("failures", failures),
		logging.Int("max_consecutive_failures", m.opts.MaxConsecutiveFailures),
	)
}

// Stop cancels in-flight probes and waits for the running round to end.
// Safe to call when not running and from several goroutines.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.stop()
}

func (m *Monitor) stop() {
	m.loopMu.Lock()
	c := m.sched
	cancel := m.cancel
	initialDone := m.initialDone
	m.sched = nil
	m.cancel = nil
	m.loopMu.Unlock()

	if c == nil {
		// A run disabled by its failure budget may still be finishing
		// its immediate round.
		if initialDone != nil {
			<-initialDone
		}
		return
	}
	cancel()
	<-c.Stop().Done()
	<-initialDone
	m.opts.Metrics.SetMonitorRunning(false)
	m.logger.Info("Periodic health checks stopped")
}

// Running reports whether periodic checks are scheduled
func (m *Monitor) Running() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.sched != nil
}

// ConsecutiveFailures returns the current failure streak
func (m *Monitor) ConsecutiveFailures() int {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.failures
}

// Get returns a copy of id's record
func (m *Monitor) Get(id string) (protocol.HealthRecord, bool) {
	m.mu.RLock()
	e, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return protocol.HealthRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRecord(e.rec), true
}

// Snapshot returns a copy of every record
func (m *Monitor) Snapshot() map[string]protocol.HealthRecord {
	m.mu.RLock()
	entries := make(map[string]*record, len(m.records))
	for id, e := range m.records {
		entries[id] = e
	}
	m.mu.RUnlock()

	out := make(map[string]protocol.HealthRecord, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = copyRecord(e.rec)
		e.mu.Unlock()
	}
	return out
}

// Records returns the snapshot sorted by server id
func (m *Monitor) Records() []protocol.HealthRecord {
	snap := m.Snapshot()
	out := make([]protocol.HealthRecord, 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Summary aggregates the current snapshot
func (m *Monitor) Summary() Summary {
	var (
		s     Summary
		total int64
		timed int
	)
	for _, rec := range m.Snapshot() {
		s.Total++
		switch rec.Status {
		case protocol.HealthHealthy:
			s.Healthy++
		case protocol.HealthUnhealthy:
			s.Unhealthy++
		default:
			s.Unknown++
		}
		if rec.ResponseTimeMs != nil {
			total += *rec.ResponseTimeMs
			timed++
		}
	}
	if timed > 0 {
		s.AverageResponseTimeMs = float64(total) / float64(timed)
	}
	return s
}

func copyRecord(r protocol.HealthRecord) protocol.HealthRecord {
	if r.ResponseTimeMs != nil {
		ms := *r.ResponseTimeMs
		r.ResponseTimeMs = &ms
	}
	return r
}
