// Package errors provides standardized error handling for the data-access
// layer. It includes category classification of remote failures, per-category
// retry policies, standard error variables, and helper functions for
// consistent error wrapping across the module.
package errors

import (
	"errors"
	"fmt"
)

// Standard error variables for common conditions
var (
	// Remote store errors
	ErrNotFound    = errors.New("document not found")
	ErrInvalidData = errors.New("invalid data format")

	// Circuit breaker and retry errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Queue lifecycle errors
	ErrQueueClosed = errors.New("batch queue closed")
)

// ClassifiedError wraps an error with the category it was classified into
// and the component/operation context where it occurred.
type ClassifiedError struct {
	Category  Category
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// BatchCommitError reports a failed batch transaction. The operations that
// were part of the failed commit have been requeued at the front of the
// queue, so the data is not lost. It is not yet durable either, which
// is why synchronous flush callers see this error instead of silence.
type BatchCommitError struct {
	Ops int // number of operations requeued
	Err error
}

// Error implements the error interface
func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("batch commit failed, %d operations requeued: %v", e.Ops, e.Err)
}

// Unwrap returns the underlying error
func (e *BatchCommitError) Unwrap() error {
	return e.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// newClassified creates a new classified error
// This is an internal helper - use the Wrap* variants instead.
func newClassified(cat Category, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Category:  cat,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WrapCategory wraps an error with an explicit category and context
func WrapCategory(cat Category, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(cat, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransient wraps an error as a retryable network-class failure with context
func WrapTransient(err error, component, method, action string) error {
	return WrapCategory(CategoryNetwork, err, component, method, action)
}

// WrapInvalid wraps an error as a caller mistake with context. Client-class
// errors are never retried.
func WrapInvalid(err error, component, method, action string) error {
	return WrapCategory(CategoryClient, err, component, method, action)
}

// WrapServer wraps an error as a remote server failure with context
func WrapServer(err error, component, method, action string) error {
	return WrapCategory(CategoryServer, err, component, method, action)
}
