package metric

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SnapshotRates(t *testing.T) {
	tr := NewTracker()

	tr.CacheHit()
	tr.CacheHit()
	tr.CacheHit()
	tr.CacheMiss()
	tr.Batched(42)

	start := time.Now().Add(-10 * time.Millisecond)
	tr.Observe(start, nil)
	tr.Observe(start, errors.New("boom"))

	snap := tr.Snapshot()
	assert.Equal(t, int64(2), snap.TotalOperations)
	assert.InDelta(t, 0.75, snap.CacheHitRate, 0.001)
	assert.InDelta(t, 0.5, snap.ErrorRate, 0.001)
	assert.Equal(t, int64(42), snap.BatchedOperations)
	assert.GreaterOrEqual(t, snap.AverageResponseTime, 10*time.Millisecond)
	assert.Greater(t, snap.Uptime, time.Duration(0))
}

func TestTracker_EmptySnapshotHasNoRates(t *testing.T) {
	snap := NewTracker().Snapshot()
	assert.Zero(t, snap.TotalOperations)
	assert.Zero(t, snap.CacheHitRate)
	assert.Zero(t, snap.ErrorRate)
	assert.Zero(t, snap.AverageResponseTime)
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker()
	tr.Operation()
	tr.CacheHit()
	tr.Error()
	tr.Latency(time.Second)

	tr.Reset()
	snap := tr.Snapshot()
	assert.Zero(t, snap.TotalOperations)
	assert.Zero(t, snap.CacheHitRate)
	assert.Zero(t, snap.AverageResponseTime)
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Operation()
				tr.CacheHit()
				tr.Latency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, int64(1000), snap.TotalOperations)
	assert.Equal(t, time.Millisecond, snap.AverageResponseTime)
}

func TestRegistry_RegisterAndServe(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "owlai",
		Subsystem: "testcomp",
		Name:      "requests_total",
		Help:      "Total requests.",
	})
	require.NoError(t, r.RegisterCounter("testcomp", "requests_total", counter))
	counter.Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "owlai_testcomp_requests_total 3")
	assert.True(t, strings.Contains(body, "go_goroutines"), "runtime collectors are registered")
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "owlai_queue_depth"})
	require.NoError(t, r.RegisterGauge("batch", "queue_depth", gauge))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "owlai_queue_depth_other"})
	err := r.RegisterGauge("batch", "queue_depth", other)
	assert.Error(t, err, "component.metric pairs are unique")
}

func TestRegistry_PrometheusConflictSurfaces(t *testing.T) {
	r := NewRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "owlai_same_name"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "owlai_same_name"})
	require.NoError(t, r.RegisterCounter("compA", "same", a))
	err := r.RegisterCounter("compB", "same", b)
	assert.Error(t, err)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "owlai_latency_seconds"})
	require.NoError(t, r.RegisterHistogram("store", "latency_seconds", hist))

	assert.True(t, r.Unregister("store", "latency_seconds"))
	assert.False(t, r.Unregister("store", "latency_seconds"))

	// Name is free again after unregistration
	again := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "owlai_latency_seconds"})
	assert.NoError(t, r.RegisterHistogram("store", "latency_seconds", again))
}
