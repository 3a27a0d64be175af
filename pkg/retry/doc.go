// Package retry implements exponential backoff with additive jitter.
//
// A Policy describes one invocation: how many additional attempts to make,
// how the delay between them grows, and (optionally) which errors are worth
// retrying at all. Policies are plain values, selected per call site; the
// errors package derives them from error categories.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func() error {
//	    return client.Ping(ctx)
//	})
//
// Operations that return a value use the generic form:
//
//	doc, err := retry.DoWithResult(ctx, policy, func() (*Document, error) {
//	    return store.Get(ctx, "sessions", id)
//	})
//
// Errors wrapped with NonRetryable fail immediately regardless of the
// policy's predicate or remaining budget.
package retry
