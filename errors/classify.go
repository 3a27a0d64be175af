package errors

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/pkg/retry"
)

// Category represents the classification of a remote failure, used to pick
// a retry policy.
type Category int

const (
	// CategoryUnknown is the fallback when nothing else matches
	CategoryUnknown Category = iota
	// CategoryNetwork represents connectivity failures (DNS, refused, reset)
	CategoryNetwork
	// CategoryTimeout represents deadline or timeout failures
	CategoryTimeout
	// CategoryServer represents 5xx-style remote failures
	CategoryServer
	// CategoryClient represents 4xx-style caller mistakes (never retried)
	CategoryClient
	// CategoryRateLimit represents throttling (HTTP 429 and equivalents)
	CategoryRateLimit
)

// String returns the string representation of Category
func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryServer:
		return "server"
	case CategoryClient:
		return "client"
	case CategoryRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by errors that carry an HTTP-style status code.
// Classification checks explicit codes before falling back to message text.
type StatusCoder interface {
	StatusCode() int
}

// StatusError is a minimal error carrying an HTTP-style status code.
type StatusError struct {
	Code    int
	Message string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "status " + strconv.Itoa(e.Code)
}

// StatusCode returns the HTTP-style status code
func (e *StatusError) StatusCode() int { return e.Code }

// Substring tables checked after explicit status codes. Order matters:
// the first matching category wins.
var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryRateLimit, []string{"rate limit", "too many requests", "quota exceeded", "throttl"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryNetwork, []string{
		"connection refused", "connection reset", "connection lost",
		"no such host", "network", "broken pipe", "unavailable", "eof",
	}},
	{CategoryServer, []string{"internal server error", "bad gateway", "service unavailable", "server error"}},
	{CategoryClient, []string{"bad request", "unauthorized", "forbidden", "not found", "invalid argument", "permission denied"}},
}

// Classify maps an error to its category. Explicit status codes are checked
// first, then well-known error values, then message substrings.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	// Already classified
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	// Explicit status codes take priority over message text
	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	// Well-known error values
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidData) {
		return CategoryClient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	// Message substring match against category tables
	msg := strings.ToLower(err.Error())
	for _, entry := range categoryPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(msg, pattern) {
				return entry.category
			}
		}
	}

	return CategoryUnknown
}

// classifyStatus maps an HTTP-style status code to a category.
// 429 and 408 are carved out of the 4xx range before the generic check.
func classifyStatus(code int) Category {
	switch {
	case code == 429:
		return CategoryRateLimit
	case code == 408:
		return CategoryTimeout
	case code >= 400 && code < 500:
		return CategoryClient
	case code >= 500 && code < 600:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// Retryable reports whether automatic retry can possibly help for err.
// Client-category errors are never retried (retrying a bad request cannot
// succeed), and an open circuit propagates immediately without consuming
// retry budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	switch Classify(err) {
	case CategoryClient:
		return false
	default:
		return true
	}
}

// PolicyFor returns the retry policy for a failure category. The policy's
// predicate re-checks retry eligibility per attempt so that, for example, a
// network failure that turns into a 400 on retry stops the loop.
func PolicyFor(cat Category) retry.Policy {
	p := retry.Policy{Predicate: Retryable}
	switch cat {
	case CategoryNetwork:
		p.MaxRetries = 3
		p.InitialDelay = time.Second
		p.MaxDelay = 8 * time.Second
		p.BackoffFactor = 2.0
	case CategoryTimeout:
		p.MaxRetries = 2
		p.InitialDelay = 2 * time.Second
		p.MaxDelay = 10 * time.Second
		p.BackoffFactor = 2.0
	case CategoryServer:
		p.MaxRetries = 2
		p.InitialDelay = 1500 * time.Millisecond
		p.MaxDelay = 6 * time.Second
		p.BackoffFactor = 2.0
	case CategoryRateLimit:
		p.MaxRetries = 3
		p.InitialDelay = 5 * time.Second
		p.MaxDelay = 30 * time.Second
		p.BackoffFactor = 3.0
	case CategoryClient:
		p.MaxRetries = 0
		p.Predicate = func(error) bool { return false }
	default:
		p.MaxRetries = 1
		p.InitialDelay = time.Second
		p.MaxDelay = 5 * time.Second
		p.BackoffFactor = 2.0
	}
	return p
}

// PolicyForError classifies err and returns the matching retry policy.
func PolicyForError(err error) retry.Policy {
	return PolicyFor(Classify(err))
}
