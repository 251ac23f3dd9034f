// Package history persists tool executions and health probes to SQLite so
// operators can look back at what the coordinator did.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

//go:embed schema.sql
var schema string

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 10000
)

// sqb builds SQLite statements with ? placeholders
var sqb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var executionColumns = []string{
	"execution_id", "server_id", "tool_name", "success", "error_kind",
	"error_code", "error_message", "execution_time_ms", "attempts", "recorded_at",
}

var healthColumns = []string{
	"server_id", "status", "response_time_ms", "error", "checked_at",
}

// Store records executions and probes
type Store interface {
	RecordExecution(ctx context.Context, result protocol.ExecutionResult) error
	RecordHealth(ctx context.Context, record protocol.HealthRecord) error
	RecentExecutions(ctx context.Context, filter Filter) ([]Execution, error)
	RecentHealth(ctx context.Context, serverID string, limit int) ([]protocol.HealthRecord, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// Execution is one stored tool invocation
type Execution struct {
	ExecutionID     string    `json:"executionId"`
	ServerID        string    `json:"serverId"`
	ToolName        string    `json:"toolName"`
	Success         bool      `json:"success"`
	ErrorKind       string    `json:"errorKind,omitempty"`
	ErrorCode       int       `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Attempts        int       `json:"attempts"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// Filter narrows RecentExecutions. Zero fields match everything.
type Filter struct {
	ServerID string
	Tool     string
	Success  *bool
	Since    time.Time
	Limit    int
	Offset   int
}

// Config configures a SQLiteStore
type Config struct {
	// DSN is the database connection string, e.g. "file:history.db"
	DSN string
	// Retention is how long rows are kept by the background pruner (0 disables it)
	Retention time.Duration
	// PruneInterval is how often the pruner runs (default 1 hour)
	PruneInterval time.Duration
}

// SQLiteStore is a Store backed by SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a store
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history: dsn is required")
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", withPragmas(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		now:  time.Now,
		done: make(chan struct{}),
	}

	if cfg.Retention > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.pruneLoop(ctx)
	} else {
		close(s.done)
	}
	return s, nil
}

// connectionPragmas are applied by the driver to every pooled connection
var connectionPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

func withPragmas(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range connectionPragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// RecordExecution stores one execution result
func (s *SQLiteStore) RecordExecution(ctx context.Context, result protocol.ExecutionResult) error {
	var (
		kind    string
		code    int
		message string
	)
	if result.Error != nil {
		kind = string(result.Error.Kind())
		code = result.Error.Code()
		message = result.Error.Error()
	}

	query, args, err := sqb.Insert("executions").
		Columns(executionColumns...).
		Values(
			result.ExecutionID,
			result.ServerID,
			result.ToolName,
			result.Success,
			kind,
			code,
			message,
			result.ExecutionTimeMs,
			result.Attempts,
			s.now().UnixNano(),
		).ToSql()
	if err != nil {
		return fmt.Errorf("history: build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("history: record execution: %w", err)
	}
	return nil
}

// RecordHealth stores one probe outcome
func (s *SQLiteStore) RecordHealth(ctx context.Context, record protocol.HealthRecord) error {
	checkedAt := record.LastCheckedAt
	if checkedAt.IsZero() {
		checkedAt = s.now()
	}
	var responseTime interface{}
	if record.ResponseTimeMs != nil {
		responseTime = *record.ResponseTimeMs
	}

	query, args, err := sqb.Insert("health_checks").
		Columns(healthColumns...).
		Values(record.ServerID, string(record.Status), responseTime, record.Error, checkedAt.UnixNano()).
		ToSql()
	if err != nil {
		return fmt.Errorf("history: build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("history: record health: %w", err)
	}
	return nil
}

func applyFilter(qb sq.SelectBuilder, filter Filter) sq.SelectBuilder {
	if filter.ServerID != "" {
		qb = qb.Where(sq.Eq{"server_id": filter.ServerID})
	}
	if filter.Tool != "" {
		qb = qb.Where(sq.Eq{"tool_name": filter.Tool})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	if !filter.Since.IsZero() {
		qb = qb.Where(sq.GtOrEq{"recorded_at": filter.Since.UnixNano()})
	}
	return qb
}

func clampLimit(limit int) uint64 {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	}
	return uint64(limit)
}

// RecentExecutions returns matching executions, newest first
func (s *SQLiteStore) RecentExecutions(ctx context.Context, filter Filter) ([]Execution, error) {
	qb := applyFilter(sqb.Select(executionColumns...).From("executions"), filter).
		OrderBy("recorded_at DESC", "id DESC").
		Limit(clampLimit(filter.Limit))
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("history: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		var (
			e          Execution
			recordedAt int64
		)
		if err := rows.Scan(
			&e.ExecutionID,
			&e.ServerID,
			&e.ToolName,
			&e.Success,
			&e.ErrorKind,
			&e.ErrorCode,
			&e.ErrorMessage,
			&e.ExecutionTimeMs,
			&e.Attempts,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan execution: %w", err)
		}
		e.RecordedAt = time.Unix(0, recordedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate executions: %w", err)
	}
	return out, nil
}

// RecentHealth returns probe records, newest first. An empty serverID
// matches every server.
func (s *SQLiteStore) RecentHealth(ctx context.Context, serverID string, limit int) ([]protocol.HealthRecord, error) {
	qb := sqb.Select(healthColumns...).From("health_checks")
	if serverID != "" {
		qb = qb.Where(sq.Eq{"server_id": serverID})
	}
	query, args, err := qb.OrderBy("checked_at DESC", "id DESC").Limit(clampLimit(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("history: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.HealthRecord
	for rows.Next() {
		var (
			rec          protocol.HealthRecord
			status       string
			responseTime sql.NullInt64
			checkedAt    int64
		)
		if err := rows.Scan(&rec.ServerID, &status, &responseTime, &rec.Error, &checkedAt); err != nil {
			return nil, fmt.Errorf("history: scan health: %w", err)
		}
		rec.Status = protocol.HealthStatus(status)
		rec.LastCheckedAt = time.Unix(0, checkedAt)
		if responseTime.Valid {
			ms := responseTime.Int64
			rec.ResponseTimeMs = &ms
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate health: %w", err)
	}
	return out, nil
}

// Prune deletes rows older than olderThan and returns how many were removed
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan).UnixNano()

	var total int64
	for table, column := range map[string]string{"executions": "recorded_at", "health_checks": "checked_at"} {
		query, args, err := sqb.Delete(table).Where(sq.Lt{column: cutoff}).ToSql()
		if err != nil {
			return total, fmt.Errorf("history: build delete: %w", err)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("history: prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) pruneLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Prune(ctx, s.cfg.Retention)
		}
	}
}

// Close stops the pruner and closes the database
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		err = s.db.Close()
	})
	return err
}
