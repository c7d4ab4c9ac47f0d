package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/twinflow/metric"
)

func TestStatusConstructors(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		healthy bool
		level   int
	}{
		{"healthy", NewHealthy("engine", "running"), true, 2},
		{"degraded", NewDegraded("engine", "slow"), false, 1},
		{"unhealthy", NewUnhealthy("engine", "stopped"), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "engine", tt.status.Component)
			assert.Equal(t, tt.name, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.Equal(t, tt.level, tt.status.Level())
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_NamesWorstComponent(t *testing.T) {
	got := Aggregate("system", []Status{NewDegraded("engine", "slow"), NewUnhealthy("nats", "down")})
	assert.Equal(t, "nats is unhealthy", got.Message)
	assert.False(t, got.Healthy)
}

func TestAggregate_SortsWithoutModifyingInput(t *testing.T) {
	subs := []Status{NewHealthy("nats", ""), NewHealthy("engine", "")}
	got := Aggregate("system", subs)

	assert.Equal(t, "engine", got.SubStatuses[0].Component)
	assert.Equal(t, "nats", got.SubStatuses[1].Component)
	assert.Equal(t, "nats", subs[0].Component)
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	base := NewHealthy("base", "").WithSubStatus(NewHealthy("one", ""))
	a := base.WithSubStatus(NewHealthy("a", ""))
	b := base.WithSubStatus(NewHealthy("b", ""))

	assert.Len(t, base.SubStatuses, 1)
	assert.Equal(t, "a", a.SubStatuses[1].Component)
	assert.Equal(t, "b", b.SubStatuses[1].Component)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	status := FromError("nats", fmt.Errorf("cannot connect to nats://10.0.0.7:4222 with token=abc123"))
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, "cannot connect to [URL] with [REDACTED]", status.Message)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"failed to open /etc/twinflow/config.yaml", "failed to open [PATH]"},
		{"cannot read C:\\twinflow\\config.json", "cannot read [PATH]"},
		{"connection failed to https://api.example.com/v1/health", "connection failed to [URL]"},
		{"timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed with password:secretpass123", "auth failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	monitor := NewMonitor(nil)

	monitor.UpdateHealthy("engine", "running")
	monitor.Update("nats", Status{Status: StatusDegraded})
	assert.Equal(t, 2, monitor.Count())

	nats, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", nats.Component, "the name is stamped on update")
	assert.False(t, nats.Timestamp.IsZero())

	assert.True(t, monitor.AggregateHealth("twinflow").IsDegraded())

	monitor.UpdateUnhealthy("engine", "stopped")
	assert.True(t, monitor.AggregateHealth("twinflow").IsUnhealthy())

	monitor.Remove("engine")
	_, ok = monitor.Get("engine")
	assert.False(t, ok)
	assert.Len(t, monitor.GetAll(), 1)
}

func TestMonitor_RefreshRunsChecksAndRecordsMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	monitor := NewMonitor(registry.CoreMetrics())

	var connected bool
	monitor.Register("nats", func(context.Context) Status {
		if !connected {
			return FromError("nats", errors.New("not connected"))
		}
		return NewHealthy("nats", "connected")
	})

	monitor.Refresh(context.Background())
	status, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().HealthStatus.WithLabelValues("nats")))

	connected = true
	monitor.Refresh(context.Background())
	status, _ = monitor.Get("nats")
	assert.True(t, status.IsHealthy())
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.CoreMetrics().HealthStatus.WithLabelValues("nats")))
}

func TestMonitor_Handler(t *testing.T) {
	monitor := NewMonitor(nil)
	running := true
	monitor.Register("engine", func(context.Context) Status {
		if running {
			return NewHealthy("engine", "running")
		}
		return NewUnhealthy("engine", "stopped")
	})
	handler := monitor.Handler("twinflow")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "twinflow", body.Component)
	assert.True(t, body.IsHealthy())
	require.Len(t, body.SubStatuses, 1)

	running = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor(nil)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("component-%d", i)
			for j := 0; j < 50; j++ {
				monitor.UpdateHealthy(name, "ok")
				_ = monitor.AggregateHealth("system")
				_, _ = monitor.Get(name)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, monitor.Count())
}
