package metric

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker keeps rolling counters of data-access activity: operation counts,
// cache hit rate, average latency and error rate. It is always on, has no
// external dependencies, and is safe for concurrent use. Components record
// into a shared Tracker; the UI boundary reads Snapshot.
type Tracker struct {
	totalOperations   int64
	cacheHits         int64
	cacheMisses       int64
	batchedOperations int64
	errors            int64

	// latency sums are protected by mutex (no atomic float64)
	mu           sync.Mutex
	totalLatency time.Duration
	latencyCount int64
	startTime    time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// Operation records one logical operation.
func (t *Tracker) Operation() {
	atomic.AddInt64(&t.totalOperations, 1)
}

// CacheHit records a cache hit.
func (t *Tracker) CacheHit() {
	atomic.AddInt64(&t.cacheHits, 1)
}

// CacheMiss records a cache miss.
func (t *Tracker) CacheMiss() {
	atomic.AddInt64(&t.cacheMisses, 1)
}

// Batched records n operations committed through the batch writer.
func (t *Tracker) Batched(n int) {
	atomic.AddInt64(&t.batchedOperations, int64(n))
}

// Error records a failed operation.
func (t *Tracker) Error() {
	atomic.AddInt64(&t.errors, 1)
}

// Latency records the duration of one remote operation.
func (t *Tracker) Latency(d time.Duration) {
	t.mu.Lock()
	t.totalLatency += d
	t.latencyCount++
	t.mu.Unlock()
}

// Observe is a convenience helper: records an operation, its latency, and
// an error if err is non-nil.
func (t *Tracker) Observe(start time.Time, err error) {
	t.Operation()
	t.Latency(time.Since(start))
	if err != nil {
		t.Error()
	}
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	TotalOperations     int64         `json:"total_operations"`
	CacheHitRate        float64       `json:"cache_hit_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	BatchedOperations   int64         `json:"batched_operations"`
	ErrorRate           float64       `json:"error_rate"`
	Uptime              time.Duration `json:"uptime"`
}

// Snapshot returns the current rolling metrics.
func (t *Tracker) Snapshot() Snapshot {
	total := atomic.LoadInt64(&t.totalOperations)
	hits := atomic.LoadInt64(&t.cacheHits)
	misses := atomic.LoadInt64(&t.cacheMisses)

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(atomic.LoadInt64(&t.errors)) / float64(total)
	}

	t.mu.Lock()
	var avg time.Duration
	if t.latencyCount > 0 {
		avg = t.totalLatency / time.Duration(t.latencyCount)
	}
	uptime := time.Since(t.startTime)
	t.mu.Unlock()

	return Snapshot{
		TotalOperations:     total,
		CacheHitRate:        hitRate,
		AverageResponseTime: avg,
		BatchedOperations:   atomic.LoadInt64(&t.batchedOperations),
		ErrorRate:           errorRate,
		Uptime:              uptime,
	}
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	atomic.StoreInt64(&t.totalOperations, 0)
	atomic.StoreInt64(&t.cacheHits, 0)
	atomic.StoreInt64(&t.cacheMisses, 0)
	atomic.StoreInt64(&t.batchedOperations, 0)
	atomic.StoreInt64(&t.errors, 0)

	t.mu.Lock()
	t.totalLatency = 0
	t.latencyCount = 0
	t.startTime = time.Now()
	t.mu.Unlock()
}
