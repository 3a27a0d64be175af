// Package batch implements the write queue in front of the remote document
// store. All remote mutations funnel through one Writer, which commits them
// in FIFO order as atomic batches, either when enough operations pile up
// or when the flush interval elapses, whichever comes first.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/metric"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/breaker"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/retry"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// Config contains configuration for the batch writer.
type Config struct {
	// BatchSize is the maximum number of operations per committed batch.
	// The default of 500 matches the typical transaction-size ceiling of
	// document stores.
	BatchSize int `json:"batch_size"`

	// FlushInterval is how often the background flusher commits non-empty
	// queues regardless of size, bounding staleness.
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultConfig returns sensible defaults for the batch writer.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "batch", "Validate", "batch_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "batch", "Validate", "flush_interval cannot be negative")
	}
	return nil
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = def.FlushInterval
	}
	return c
}

// Stats is a snapshot of writer activity. AverageBatchSize averages over
// every attempted commit, successful or not.
type Stats struct {
	TotalOperations   int64   `json:"total_operations"`
	SuccessfulBatches int64   `json:"successful_batches"`
	FailedBatches     int64   `json:"failed_batches"`
	PendingOperations int     `json:"pending_operations"`
	AverageBatchSize  float64 `json:"average_batch_size"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTracker wires the shared metrics tracker.
func WithTracker(tracker *metric.Tracker) Option {
	return func(w *Writer) { w.tracker = tracker }
}

// WithBreaker protects commits with a circuit breaker; when the circuit is
// open, flushes fail fast and operations stay queued for the next tick.
func WithBreaker(b *breaker.Breaker) Option {
	return func(w *Writer) { w.breaker = b }
}

// WithRetry retries each commit attempt per the given policy before the
// failure is declared and the slice requeued.
func WithRetry(p retry.Policy) Option {
	return func(w *Writer) { w.retryPolicy = &p }
}

// WithCommitCallback registers a callback invoked with every successfully
// committed slice. Used to invalidate caches and fan out notifications
// after the data is durable, never before.
func WithCommitCallback(fn func(ops []store.BatchOp)) Option {
	return func(w *Writer) { w.onCommit = fn }
}

// Writer accumulates operations and commits them in FIFO slices. It is the
// single writer of remote mutations; callers never race on the same remote
// document because everything serializes through the queue.
type Writer struct {
	cfg         Config
	store       store.Store
	logger      *slog.Logger
	tracker     *metric.Tracker
	breaker     *breaker.Breaker
	retryPolicy *retry.Policy
	onCommit    func(ops []store.BatchOp)

	mu     sync.Mutex
	queue  []store.BatchOp
	groups []int // consistency group lengths, in queue order; sums to len(queue)
	closed bool

	// stats, guarded by mu
	totalOps     int64
	successful   int64
	failed       int64
	totalBatched int64 // sum of attempted batch sizes

	shutdown chan struct{}
	done     chan struct{}
}

// NewWriter creates a batch writer and starts its background flusher.
// The flusher stops when ctx is cancelled or Close is called.
func NewWriter(ctx context.Context, cfg Config, st store.Store, opts ...Option) (*Writer, error) {
	if st == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "batch", "NewWriter", "store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:      cfg.withDefaults(),
		store:    st,
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run(ctx)

	return w, nil
}

// Enqueue appends operations to the queue. Operations passed in one call
// form a consistency group and always land in the same committed batch;
// if the group would not fit the current batch, the queue is flushed first.
// Reaching BatchSize triggers a synchronous flush.
func (w *Writer) Enqueue(ctx context.Context, ops ...store.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	now := time.Now()
	for i := range ops {
		ops[i].EnqueuedAt = now
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.Wrap(errors.ErrQueueClosed, "batch", "Enqueue", "enqueue")
	}

	// Keep consistency groups whole: drain the queue before appending a
	// group that would straddle a batch boundary. A failed pre-flush is
	// not fatal for the group; flushLocked never splits groups, so the
	// group still lands whole once the requeued ops commit.
	var preFlushErr error
	if len(w.queue) > 0 && len(w.queue)+len(ops) > w.cfg.BatchSize {
		preFlushErr = w.flushLocked(ctx)
	}

	w.queue = append(w.queue, ops...)
	w.groups = append(w.groups, len(ops))
	w.totalOps += int64(len(ops))

	var flushErr error
	if len(w.queue) >= w.cfg.BatchSize {
		flushErr = w.flushLocked(ctx)
	}
	w.mu.Unlock()

	if preFlushErr != nil {
		return preFlushErr
	}
	return flushErr
}

// Flush force-commits up to BatchSize queued operations. On failure the
// slice is requeued at the front and a *errors.BatchCommitError returned:
// the data is preserved but not yet durable, and the background flusher
// will retry on its next tick.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// flushLocked slices and commits one batch. Caller must hold w.mu.
//
// The commit itself runs outside any per-key locks upstream but inside
// w.mu here: the queue is the serialization point for remote writes, so
// holding the lock across the commit is what preserves FIFO order across
// flushes.
func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.queue) == 0 {
		return nil
	}

	// Slice whole consistency groups up to BatchSize. A group larger than
	// BatchSize commits alone as an oversized batch rather than split.
	n, g := 0, 0
	for _, size := range w.groups {
		if n > 0 && n+size > w.cfg.BatchSize {
			break
		}
		n += size
		g++
		if n >= w.cfg.BatchSize {
			break
		}
	}
	slice := w.queue[:n:n]
	w.queue = w.queue[n:]
	taken := w.groups[:g:g]
	w.groups = w.groups[g:]

	err := w.commit(ctx, slice)

	w.totalBatched += int64(len(slice))
	if err != nil {
		w.failed++
		// Requeue at the front: ordering and at-least-once delivery hold
		w.queue = append(append([]store.BatchOp(nil), slice...), w.queue...)
		w.groups = append(append([]int(nil), taken...), w.groups...)
		if w.tracker != nil {
			w.tracker.Error()
		}
		w.logger.Warn("batch commit failed, operations requeued",
			"ops", len(slice),
			"pending", len(w.queue),
			"error", err,
		)
		return &errors.BatchCommitError{Ops: len(slice), Err: err}
	}

	w.successful++
	if w.tracker != nil {
		w.tracker.Batched(len(slice))
	}
	w.logger.Debug("batch committed", "ops", len(slice), "pending", len(w.queue))

	if w.onCommit != nil {
		w.onCommit(slice)
	}
	return nil
}

// commit performs one commit attempt, composed with the optional retry
// policy and breaker. The breaker wraps the whole retry loop, so one
// failed commit counts as one breaker failure no matter how many
// attempts the policy spent on it.
func (w *Writer) commit(ctx context.Context, ops []store.BatchOp) error {
	run := func(ctx context.Context) error {
		if w.retryPolicy != nil {
			return retry.Do(ctx, *w.retryPolicy, func() error {
				return w.store.CommitBatch(ctx, ops)
			})
		}
		return w.store.CommitBatch(ctx, ops)
	}

	if w.breaker != nil {
		return w.breaker.Execute(ctx, run)
	}
	return run(ctx)
}

// run is the background flusher.
func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case <-ticker.C:
			// Errors already requeued the slice; nothing to do but wait
			// for the next tick
			if err := w.Flush(ctx); err != nil {
				w.logger.Debug("background flush failed", "error", err)
			}
		}
	}
}

// Pending returns the number of queued operations.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stats returns a snapshot of writer activity.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		TotalOperations:   w.totalOps,
		SuccessfulBatches: w.successful,
		FailedBatches:     w.failed,
		PendingOperations: len(w.queue),
	}
	if batches := w.successful + w.failed; batches > 0 {
		s.AverageBatchSize = float64(w.totalBatched) / float64(batches)
	}
	return s
}

// Close stops the background flusher and drains the queue. Returns the
// first flush error; queued operations stay in memory only, so callers
// should treat a failed drain as data loss on shutdown.
func (w *Writer) Close(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		return errors.Wrap(context.DeadlineExceeded, "batch", "Close", "await flusher shutdown")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for len(w.queue) > 0 {
		if err := w.flushLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}
