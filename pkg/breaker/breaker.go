// Package breaker implements the circuit breaker protecting remote
// dependencies: after enough consecutive failures it fails fast instead of
// piling more load onto a dependency that is already down, then probes for
// recovery after a cooldown.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// State represents the circuit breaker state
type State int

// Possible breaker states
const (
	// StateClosed passes calls through and counts failures
	StateClosed State = iota
	// StateOpen fails fast without invoking the operation
	StateOpen
	// StateHalfOpen allows one trial call after the reset timeout
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// outcome is one request result in the rolling observability window.
type outcome struct {
	at      time.Time
	success bool
}

// Breaker is a circuit breaker for one protected dependency.
//
// State transitions are driven exclusively by the consecutive failure
// counter; the rolling outcome window only feeds SuccessRate and Snapshot.
// Keeping a single source of truth avoids the counter and the window
// disagreeing about circuit state.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	window           time.Duration
	now              func() time.Time
	logger           *slog.Logger
	onStateChange    func(from, to State)

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	recent          []outcome
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithName sets the breaker name used in logs.
func WithName(name string) Option {
	return func(b *Breaker) { b.name = name }
}

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open before a trial call
// is allowed.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithWindow sets the rolling window over which SuccessRate is computed.
func WithWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithClock overrides the breaker's clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChange sets a callback invoked on every state transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a circuit breaker with the given options.
// Defaults: threshold 5, reset timeout 30s, window 60s.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		name:             "breaker",
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		window:           time.Minute,
		now:              time.Now,
		logger:           slog.Default(),
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn through the breaker. If the circuit is open and the reset
// timeout has not elapsed, it returns errors.ErrCircuitOpen without invoking
// fn. Otherwise fn runs and its outcome drives the state machine.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterCall(err == nil)
	return err
}

// beforeCall decides whether the call may proceed, moving Open to HalfOpen
// when the reset timeout has elapsed. HalfOpen admits exactly one trial
// call; the state only leaves HalfOpen when that trial settles, so every
// other caller fails fast until then.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		return errors.ErrCircuitOpen
	}

	if b.now().Sub(b.lastFailureTime) < b.resetTimeout {
		return errors.ErrCircuitOpen
	}

	b.transitionLocked(StateHalfOpen)
	return nil
}

// afterCall routes the result to the success/failure handlers and records
// the outcome in the rolling window.
func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.recent = append(b.recent, outcome{at: now, success: success})
	b.pruneLocked(now)

	if success {
		b.failureCount = 0
		if b.state == StateHalfOpen {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.failureCount++
	b.lastFailureTime = now

	if b.state == StateHalfOpen {
		b.transitionLocked(StateOpen)
		return
	}
	if b.state != StateOpen && b.failureCount >= b.failureThreshold {
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked changes state. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	b.logger.Info("circuit breaker state change",
		"breaker", b.name,
		"from", from.String(),
		"to", to.String(),
		"failures", b.failureCount,
	)

	if b.onStateChange != nil {
		// Callback runs under the lock; keep it cheap
		b.onStateChange(from, to)
	}
}

// pruneLocked drops outcomes older than the window. Caller must hold b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for ; i < len(b.recent); i++ {
		if b.recent[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.recent = append(b.recent[:0], b.recent[i:]...)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SuccessRate returns the fraction of successful calls within the rolling
// window (1.0 when no calls were recorded). Observability only; it never
// drives state transitions.
func (b *Breaker) SuccessRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(b.now())
	if len(b.recent) == 0 {
		return 1.0
	}

	var ok int
	for _, o := range b.recent {
		if o.success {
			ok++
		}
	}
	return float64(ok) / float64(len(b.recent))
}

// Snapshot is a point-in-time view of breaker state.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	WindowRequests  int       `json:"window_requests"`
	SuccessRate     float64   `json:"success_rate"`
}

// Snapshot returns the current breaker state and window metrics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(b.now())
	var ok int
	for _, o := range b.recent {
		if o.success {
			ok++
		}
	}
	rate := 1.0
	if len(b.recent) > 0 {
		rate = float64(ok) / float64(len(b.recent))
	}

	return Snapshot{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		WindowRequests:  len(b.recent),
		SuccessRate:     rate,
	}
}

// Reset forces the breaker back to closed with a clean failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.recent = nil
	b.transitionLocked(StateClosed)
}

// Do runs fn through the breaker and returns its result.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
