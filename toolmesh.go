package toolmesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajitpratap0/toolmesh/pkg/config"
	"github.com/ajitpratap0/toolmesh/pkg/coordinator"
	"github.com/ajitpratap0/toolmesh/pkg/executor"
	"github.com/ajitpratap0/toolmesh/pkg/health"
	"github.com/ajitpratap0/toolmesh/pkg/history"
	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// Version represents the current version of toolmesh
const Version = "0.1.0"

// These exports provide direct access to the core components
var (
	// NewCoordinator creates a coordinator from explicit options
	NewCoordinator = coordinator.New

	// LoadConfig reads a config file and the TOOLMESH_* environment
	LoadConfig = config.Load

	// LoadCatalog reads a YAML tool catalog
	LoadCatalog = config.LoadCatalog

	// NewHistoryStore opens a SQLite execution history
	NewHistoryStore = history.NewSQLiteStore
)

// Common types
type (
	Coordinator     = coordinator.Coordinator
	ExecutionResult = protocol.ExecutionResult
	HealthRecord    = protocol.HealthRecord
	ToolDescriptor  = protocol.ToolDescriptor
	SystemHealth    = coordinator.SystemHealth
	StartResult     = coordinator.StartResult
	LocalFunc       = executor.LocalFunc
)

// Health statuses
const (
	HealthHealthy   = protocol.HealthHealthy
	HealthUnhealthy = protocol.HealthUnhealthy
	HealthUnknown   = protocol.HealthUnknown
)

// Options tune how a Runtime is assembled from configuration
type Options struct {
	// Logger overrides the logger built from the log settings
	Logger logging.Logger
	// LogOutput receives log lines when Logger is nil (default os.Stderr)
	LogOutput io.Writer
	// Registerer receives the metrics collectors (default: a fresh registry)
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Builtin implements tools served by builtin:// servers (default: echo and noop)
	Builtin map[string]LocalFunc
}

// Runtime is a coordinator together with the services built for it
type Runtime struct {
	Config      *config.Config
	Coordinator *coordinator.Coordinator
	Logger      logging.Logger
	Metrics     *observability.Metrics
	Tracing     *observability.TracingProvider
}

// Load reads configuration from path (optional) and the environment and
// assembles a Runtime.
func Load(path string, opts Options) (*Runtime, error) {
	cfg, resolver, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Open(cfg, resolver, opts)
}

// Open assembles a Runtime: logger, metrics, tracing, the optional history
// store and tool catalog, and the coordinator. Nothing is started until
// Coordinator.Init.
func Open(cfg *config.Config, resolver *config.Resolver, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		var err error
		logger, err = logging.NewFromConfig(out, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}

	registerer := opts.Registerer
	if registerer == nil {
		reg := prometheus.NewRegistry()
		registerer, opts.Gatherer = reg, reg
	}
	metrics, err := observability.NewMetrics(observability.MetricsConfig{
		Namespace:  cfg.Metrics.Namespace,
		Registerer: registerer,
		Gatherer:   opts.Gatherer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracing, err := observability.NewTracingProvider(observability.TracingConfigFrom(cfg.Tracing, Version))
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing provider: %w", err)
	}

	var tools []protocol.ToolDescriptor
	if cfg.Catalog != "" {
		if tools, err = config.LoadCatalog(cfg.Catalog); err != nil {
			_ = tracing.Shutdown(context.Background())
			return nil, err
		}
	}

	copts := coordinator.Options{
		Resolver:               resolver,
		Tools:                  tools,
		HealthInterval:         cfg.Health.Interval,
		HealthTimeout:          cfg.Health.Timeout,
		MaxConsecutiveFailures: cfg.Health.MaxConsecutiveFailures,
		Builtin:                opts.Builtin,
		Logger:                 logger,
		Metrics:                metrics,
		Tracing:                tracing,
	}
	if cfg.Health.Schedule != "" {
		if copts.HealthSchedule, err = health.ParseSchedule(cfg.Health.Schedule); err != nil {
			_ = tracing.Shutdown(context.Background())
			return nil, err
		}
	}
	if cfg.History.DSN != "" {
		store, err := history.NewSQLiteStore(history.Config{DSN: cfg.History.DSN, Retention: cfg.History.Retention})
		if err != nil {
			_ = tracing.Shutdown(context.Background())
			return nil, err
		}
		copts.History = store
	}

	coord, err := coordinator.New(copts)
	if err != nil {
		if copts.History != nil {
			_ = copts.History.Close()
		}
		_ = tracing.Shutdown(context.Background())
		return nil, err
	}

	return &Runtime{
		Config:      cfg,
		Coordinator: coord,
		Logger:      logger,
		Metrics:     metrics,
		Tracing:     tracing,
	}, nil
}

// Close shuts the coordinator down, then stops the metrics server and
// flushes traces.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		r.Coordinator.Shutdown(ctx),
		r.Metrics.Shutdown(ctx),
		r.Tracing.Shutdown(ctx),
	)
}
