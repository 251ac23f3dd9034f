package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/toolmesh/pkg/auth"
	"github.com/ajitpratap0/toolmesh/pkg/config"
	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
	"github.com/ajitpratap0/toolmesh/pkg/utils"
)

type staticResolver map[string]config.ServerDescriptor

func (r staticResolver) ResolveStrict(id string) (config.ServerDescriptor, error) {
	d, ok := r[id]
	if !ok {
		return config.ServerDescriptor{}, mcperrors.ServerNotConfigured(id)
	}
	return d, nil
}

func httpServer(id, base string) config.ServerDescriptor {
	return config.ServerDescriptor{
		ID:          id,
		Endpoint:    "ws" + strings.TrimPrefix(base, "http"),
		HTTPBaseURL: base,
		Mode:        config.ModeHTTP,
	}
}

func healthBackend(t *testing.T, status int) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCheckHealthHealthy(t *testing.T) {
	srv, hits := healthBackend(t, http.StatusOK)
	m := NewMonitor(Options{Resolver: staticResolver{"alpha": httpServer("alpha", srv.URL)}})

	for i := 0; i < 3; i++ {
		rec := m.CheckHealth(context.Background(), "alpha")
		assert.Equal(t, protocol.HealthHealthy, rec.Status)
		require.NotNil(t, rec.ResponseTimeMs)
		assert.GreaterOrEqual(t, *rec.ResponseTimeMs, int64(0))
		assert.Empty(t, rec.Error)
		assert.False(t, rec.LastCheckedAt.IsZero())
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(hits))
	assert.Equal(t, 0, m.ConsecutiveFailures())

	stored, ok := m.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, protocol.HealthHealthy, stored.Status)
}

func TestCheckHealthUnhealthyStatus(t *testing.T) {
	srv, _ := healthBackend(t, http.StatusServiceUnavailable)
	m := NewMonitor(Options{Resolver: staticResolver{"alpha": httpServer("alpha", srv.URL)}})

	rec := m.CheckHealth(context.Background(), "alpha")
	assert.Equal(t, protocol.HealthUnhealthy, rec.Status)
	assert.Nil(t, rec.ResponseTimeMs)
	assert.Contains(t, rec.Error, "503")
	assert.Equal(t, 1, m.ConsecutiveFailures())
}

func TestCheckHealthUnreachable(t *testing.T) {
	srv, _ := healthBackend(t, http.StatusOK)
	base := srv.URL
	srv.Close()

	m := NewMonitor(Options{Resolver: staticResolver{"alpha": httpServer("alpha", base)}})
	rec := m.CheckHealth(context.Background(), "alpha")
	assert.Equal(t, protocol.HealthUnknown, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, 1, m.ConsecutiveFailures())
}

func TestCheckHealthTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := NewMonitor(Options{
		Resolver: staticResolver{"slow": httpServer("slow", srv.URL)},
		Timeout:  50 * time.Millisecond,
	})

	start := time.Now()
	rec := m.CheckHealth(context.Background(), "slow")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, protocol.HealthUnknown, rec.Status)
	assert.Contains(t, rec.Error, "timed out")
}

func TestCheckHealthBuiltin(t *testing.T) {
	m := NewMonitor(Options{Resolver: staticResolver{
		"local": {ID: "local", Endpoint: "builtin://local"},
	}})

	rec := m.CheckHealth(context.Background(), "local")
	assert.Equal(t, protocol.HealthHealthy, rec.Status)
	require.NotNil(t, rec.ResponseTimeMs)
}

func TestCheckHealthUnconfigured(t *testing.T) {
	m := NewMonitor(Options{Resolver: staticResolver{}})

	rec := m.CheckHealth(context.Background(), "ghost")
	assert.Equal(t, protocol.HealthUnknown, rec.Status)
	assert.Contains(t, rec.Error, "not configured")
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestCheckHealthCredentials(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(Options{
		Resolver: staticResolver{"alpha": httpServer("alpha", srv.URL)},
		Credentials: func(string) auth.CredentialProvider {
			return auth.NewBearerProvider("s3cret")
		},
	})

	rec := m.CheckHealth(context.Background(), "alpha")
	assert.Equal(t, protocol.HealthHealthy, rec.Status)
	assert.Equal(t, "Bearer s3cret", got)
}

func TestSuccessResetsFailures(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(Options{Resolver: staticResolver{"alpha": httpServer("alpha", srv.URL)}})
	m.CheckHealth(context.Background(), "alpha")
	m.CheckHealth(context.Background(), "alpha")
	assert.Equal(t, 2, m.ConsecutiveFailures())

	healthy.Store(true)
	m.CheckHealth(context.Background(), "alpha")
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestPeriodicChecksProbeRepeatedly(t *testing.T) {
	srv, hits := healthBackend(t, http.StatusOK)
	m := NewMonitor(Options{Resolver: staticResolver{"alpha": httpServer("alpha", srv.URL)}})

	require.NoError(t, m.StartPeriodicChecks([]string{"alpha"}, 20*time.Millisecond))
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(hits) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Running())
}

func TestPeriodicChecksDisableAfterFailures(t *testing.T) {
	srv, hits := healthBackend(t, http.StatusInternalServerError)
	m := NewMonitor(Options{
		Resolver:               staticResolver{"alpha": httpServer("alpha", srv.URL)},
		MaxConsecutiveFailures: 3,
	})

	require.NoError(t, m.StartPeriodicChecks([]string{"alpha"}, 20*time.Millisecond))
	defer m.Stop()

	assert.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 10*time.Millisecond)

	plateau := atomic.LoadInt64(hits)
	assert.Equal(t, int64(3), plateau)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, plateau, atomic.LoadInt64(hits), "no probes after the budget is exhausted")

	rec, ok := m.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, protocol.HealthUnhealthy, rec.Status)
}

func TestRestartResetsBudget(t *testing.T) {
	srv, hits := healthBackend(t, http.StatusInternalServerError)
	m := NewMonitor(Options{
		Resolver:               staticResolver{"alpha": httpServer("alpha", srv.URL)},
		MaxConsecutiveFailures: 2,
	})

	require.NoError(t, m.StartPeriodicChecks([]string{"alpha"}, 10*time.Millisecond))
	assert.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)
	first := atomic.LoadInt64(hits)

	require.NoError(t, m.StartPeriodicChecks([]string{"alpha"}, 10*time.Millisecond))
	defer m.Stop()
	assert.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, first+2, atomic.LoadInt64(hits))
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewMonitor(Options{Resolver: staticResolver{}})
	m.Stop()

	require.NoError(t, m.StartPeriodicChecks([]string{"ghost"}, time.Hour))
	assert.True(t, m.Running())
	m.Stop()
	m.Stop()
	assert.False(t, m.Running())
}

func TestStopReleasesGoroutines(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)

	m := NewMonitor(Options{Resolver: staticResolver{
		"local": {ID: "local", Endpoint: "builtin://local"},
	}})
	for i := 0; i < 3; i++ {
		require.NoError(t, m.StartPeriodicChecks([]string{"local", "ghost"}, 5*time.Millisecond))
		time.Sleep(20 * time.Millisecond)
	}
	m.Stop()

	detector.Check()
}

func TestConcurrentStartAndStop(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)

	m := NewMonitor(Options{Resolver: staticResolver{
		"local": {ID: "local", Endpoint: "builtin://local"},
	}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.StartPeriodicChecks([]string{"local"}, 5*time.Millisecond))
		}()
		go func() {
			defer wg.Done()
			m.Stop()
		}()
	}
	wg.Wait()

	m.Stop()
	assert.False(t, m.Running())
	detector.Check()
}

func TestStartRejectsBadInterval(t *testing.T) {
	m := NewMonitor(Options{})
	assert.Error(t, m.StartPeriodicChecks([]string{"a"}, 0))
	assert.Error(t, m.StartSchedule([]string{"a"}, nil))
	assert.False(t, m.Running())
}

func TestOnRecord(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []protocol.HealthRecord
	)
	m := NewMonitor(Options{
		Resolver: staticResolver{"local": {ID: "local", Endpoint: "builtin://local"}},
		OnRecord: func(r protocol.HealthRecord) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		},
	})
	m.CheckHealth(context.Background(), "local")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "local", seen[0].ServerID)
}

func TestSummary(t *testing.T) {
	ok, _ := healthBackend(t, http.StatusOK)
	bad, _ := healthBackend(t, http.StatusBadGateway)

	m := NewMonitor(Options{Resolver: staticResolver{
		"a": httpServer("a", ok.URL),
		"b": httpServer("b", bad.URL),
		"c": {ID: "c", Endpoint: "builtin://c"},
	}})
	m.Register("a", "b", "c", "d")

	assert.Equal(t, Summary{Total: 4, Unknown: 4}, m.Summary())

	for _, id := range []string{"a", "b", "c"} {
		m.CheckHealth(context.Background(), id)
	}

	s := m.Summary()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Healthy)
	assert.Equal(t, 1, s.Unhealthy)
	assert.Equal(t, 1, s.Unknown)
	assert.GreaterOrEqual(t, s.AverageResponseTimeMs, 0.0)

	records := m.Records()
	require.Len(t, records, 4)
	assert.Equal(t, "a", records[0].ServerID)
	assert.Equal(t, "d", records[3].ServerID)
}

func TestSnapshotIsCopy(t *testing.T) {
	m := NewMonitor(Options{Resolver: staticResolver{"c": {ID: "c", Endpoint: "builtin://c"}}})
	m.CheckHealth(context.Background(), "c")

	snap := m.Snapshot()
	rec := snap["c"]
	*rec.ResponseTimeMs = 99999

	again, _ := m.Get("c")
	assert.NotEqual(t, int64(99999), *again.ResponseTimeMs)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 30s", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"", true},
		{"not a schedule", true},
		{"* * * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			now := time.Now()
			assert.True(t, s.Next(now).After(now))
		})
	}
}

func TestEvery(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.Add(250*time.Millisecond), Every(250*time.Millisecond).Next(now))
}
