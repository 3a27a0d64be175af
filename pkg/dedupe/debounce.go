package dedupe

import (
	"sync"
	"time"
)

// pendingCall is a scheduled invocation awaiting its quiet period.
type pendingCall struct {
	timer *time.Timer
	fn    func()
}

// Debouncer delays a keyed operation until the key has been quiet for its
// delay. Scheduling the same key again cancels the previously scheduled
// invocation. Useful for collapsing bursts of writes (e.g. keystroke-driven
// title updates) into one.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	stopped bool
}

// NewDebouncer creates an empty debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*pendingCall)}
}

// Debounce schedules fn to run after delay of inactivity for key, replacing
// any previously scheduled invocation for the same key.
func (d *Debouncer) Debounce(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	call := &pendingCall{fn: fn}
	call.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		// Only fire if this is still the scheduled call for the key
		if current, ok := d.pending[key]; ok && current == call {
			delete(d.pending, key)
			d.mu.Unlock()
			fn()
			return
		}
		d.mu.Unlock()
	})
	d.pending[key] = call
}

// Cancel drops the scheduled invocation for key, if any.
// Returns true if something was cancelled.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	call, ok := d.pending[key]
	if !ok {
		return false
	}
	call.timer.Stop()
	delete(d.pending, key)
	return true
}

// Flush runs the scheduled invocation for key immediately, clearing its
// timer. Returns true if something was flushed.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	call, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return false
	}
	call.timer.Stop()
	delete(d.pending, key)
	d.mu.Unlock()

	call.fn()
	return true
}

// Stop cancels every scheduled invocation and rejects new ones.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, call := range d.pending {
		call.timer.Stop()
		delete(d.pending, key)
	}
}
