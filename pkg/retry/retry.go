// Package retry provides policy-driven exponential backoff retry logic.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Policy configures retry behavior for a single invocation.
// MaxRetries counts additional attempts beyond the first, so a failing
// operation runs MaxRetries+1 times in total.
type Policy struct {
	MaxRetries    int           // Additional attempts after the first (0 = run once)
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound on the delay between attempts
	BackoffFactor float64       // Delay multiplier between attempts (typically 2.0)

	// Predicate decides whether a given failure is worth retrying.
	// A nil predicate retries everything except NonRetryable errors.
	Predicate func(error) bool

	// OnRetry is invoked before each retry with the error that triggered it
	// and the attempt number (1-based). Purely observational.
	OnRetry func(err error, attempt int)
}

// maxJitter is the upper bound of the additive jitter applied to each delay.
// Additive (rather than proportional) jitter spreads simultaneous callers
// even when their computed delays are identical.
const maxJitter = time.Second

// DefaultPolicy returns sensible defaults for retry operations
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
	}
}

// jitter returns a random duration in [0, maxJitter).
func jitter() time.Duration {
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSource.Int63n(int64(maxJitter)))
}

// Do executes fn with exponential backoff retry according to p.
// The delay before each retry grows as delay*BackoffFactor plus additive
// jitter, capped at MaxDelay. The backoff sleep is cancellable via ctx.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	if p.BackoffFactor < 0 {
		return errors.New("retry: BackoffFactor cannot be negative")
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	// Set defaults if not specified
	if p.InitialDelay == 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 8 * time.Second
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = 2.0
	}
	// Prevent overflow with extreme multipliers
	if p.BackoffFactor > 1000 {
		p.BackoffFactor = 1000
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Non-retryable errors fail immediately, before the predicate runs
		if IsNonRetryable(err) {
			return err
		}

		// Last allowed attempt: no further delay
		if attempt == p.MaxRetries {
			break
		}
		// Predicate rejects: rethrow immediately
		if p.Predicate != nil && !p.Predicate(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt+1, ctx.Err())
		}

		if p.OnRetry != nil {
			p.OnRetry(err, attempt+1)
		}

		// Sleep with context cancellation support
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+2, ctx.Err())
		case <-timer.C:
		}

		// Next delay: exponential growth plus additive jitter, capped
		next := float64(delay)*p.BackoffFactor + float64(jitter())
		if next > float64(p.MaxDelay) || next > float64(time.Duration(1<<63-1)) {
			delay = p.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.MaxRetries+1, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
