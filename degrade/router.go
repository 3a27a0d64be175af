// Package degrade routes failed operations to registered fallbacks after
// every automatic recovery mechanism has run its course. It is the last
// link in the chain: by the time an error leaves this package, it is final.
package degrade

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/breaker"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/retry"
)

// Fallback produces a degraded-but-available result for a logical operation.
type Fallback func(ctx context.Context) (any, error)

// Operation is the primary path for a logical operation.
type Operation func(ctx context.Context) (any, error)

// Options configures one ExecuteWithFallback invocation.
type Options struct {
	// Timeout bounds the primary path, retries included. Zero uses the
	// router default.
	Timeout time.Duration

	// Retry overrides the policy for the primary path. Nil selects the
	// policy from the first error's classification.
	Retry *retry.Policy

	// FallbackOnTimeout controls whether deadline expiry routes to the
	// fallback (true) or propagates (false).
	FallbackOnTimeout bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBreaker sets the circuit breaker RobustExecute composes outermost.
func WithBreaker(b *breaker.Breaker) RouterOption {
	return func(r *Router) { r.breaker = b }
}

// WithDefaultTimeout sets the deadline applied when Options.Timeout is zero.
func WithDefaultTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// Router holds a registry of fallback producers keyed by logical operation
// name, and composes the resilience chain around primary operations.
type Router struct {
	mu             sync.RWMutex
	fallbacks      map[string]Fallback
	breaker        *breaker.Breaker
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// NewRouter creates an empty fallback router. Default timeout: 10s.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		fallbacks:      make(map[string]Fallback),
		logger:         slog.Default(),
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFallback registers (or replaces) the fallback producer for key.
func (r *Router) RegisterFallback(key string, fb Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[key] = fb
}

// fallbackFor looks up the fallback registered for key.
func (r *Router) fallbackFor(key string) (Fallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fb, ok := r.fallbacks[key]
	return fb, ok
}

// ExecuteWithFallback runs primary under a deadline composed with retry; on
// final failure it invokes the fallback registered for key, if any,
// otherwise the original error propagates. The fallback runs under the
// caller's context, not the expired deadline.
func (r *Router) ExecuteWithFallback(ctx context.Context, key string, primary Operation, opts Options) (any, error) {
	v, err := r.runPrimary(ctx, primary, opts)
	if err == nil {
		return v, nil
	}
	return r.serveFallback(ctx, key, err, opts)
}

// RobustExecute composes circuit breaker, retry, deadline and fallback.
// The breaker wraps the whole retry chain, so one logical call records
// exactly one breaker outcome regardless of how many attempts the retry
// policy spends, and an open circuit short-circuits to the fallback
// decision before any retry delay is incurred.
func (r *Router) RobustExecute(ctx context.Context, key string, primary Operation) (any, error) {
	opts := Options{FallbackOnTimeout: true}

	run := func(ctx context.Context) (any, error) {
		return r.runPrimary(ctx, primary, opts)
	}
	if r.breaker != nil {
		b := r.breaker
		inner := run
		run = func(ctx context.Context) (any, error) {
			return breaker.Do(ctx, b, inner)
		}
	}

	v, err := run(ctx)
	if err == nil {
		return v, nil
	}
	return r.serveFallback(ctx, key, err, opts)
}

// runPrimary runs the primary path under its deadline and retry policy.
func (r *Router) runPrimary(ctx context.Context, primary Operation, opts Options) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return r.doWithRetry(tctx, primary, opts.Retry)
}

// serveFallback routes a final primary failure to the registered fallback.
func (r *Router) serveFallback(ctx context.Context, key string, err error, opts Options) (any, error) {
	timedOut := stderrors.Is(err, context.DeadlineExceeded)
	if timedOut && !opts.FallbackOnTimeout {
		return nil, err
	}

	fb, ok := r.fallbackFor(key)
	if !ok {
		return nil, err
	}

	r.logger.Info("primary path exhausted, serving fallback",
		"operation", key,
		"timed_out", timedOut,
		"error", err,
	)

	return fb(ctx)
}

// doWithRetry runs op under the given policy. When policy is nil it runs
// under the policy selected from the first error's classification. The
// first attempt doubles as the classification pass: its error seeds the
// retry loop so the operation still runs exactly MaxRetries+1 times with
// the full backoff schedule.
func (r *Router) doWithRetry(ctx context.Context, op Operation, policy *retry.Policy) (any, error) {
	if policy != nil {
		return retry.DoWithResult(ctx, *policy, func() (any, error) {
			return op(ctx)
		})
	}

	v, firstErr := op(ctx)
	if firstErr == nil {
		return v, nil
	}
	// ErrCircuitOpen and client errors never consume retry budget
	if !errors.Retryable(firstErr) {
		return nil, firstErr
	}

	p := errors.PolicyForError(firstErr)
	if p.MaxRetries == 0 {
		return nil, firstErr
	}

	replayed := false
	return retry.DoWithResult(ctx, p, func() (any, error) {
		if !replayed {
			// Replay the first attempt's failure so the loop's budget and
			// backoff schedule line up with a fresh invocation
			replayed = true
			return nil, firstErr
		}
		return op(ctx)
	})
}
