package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsRegisteredFuncs(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var ran int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestShutdownReportsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return fmt.Errorf("store close failed")
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 errors")
}

func TestShutdownTimesOut(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestMetricsRegisterAndServe(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.EventsTrackedTotal.WithLabelValues("game_start").Inc()
	m.BufferedEvents.Set(12)
	m.FlushesTotal.WithLabelValues("size", "ok").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "telemetry_events_tracked_total")
	assert.Contains(t, body, "telemetry_buffered_events 12")
}

func TestNopMetricsIsUsable(t *testing.T) {
	m := NopMetrics()
	assert.NotPanics(t, func() {
		m.EventsTrackedTotal.WithLabelValues("game_start").Inc()
		m.PurgedRowsTotal.WithLabelValues("events").Add(3)
	})
}
