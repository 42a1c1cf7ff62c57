// Package clock provides the monotonic time source and one-shot timeout
// wheel used by the device-status state machine to decay ONLINE devices to
// UNKNOWN. It is deliberately small: the only primitive the rest of the
// system needs is "run this task once, after this long, unless cancelled
// first" with cancellation racing safely against firing.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Now returns the current time. It exists so callers can be handed a single
// narrow interface instead of reaching for the time package directly,
// injected into option structs rather than calling time.Now() from deep
// inside a component.
type Now func() time.Time

// SystemNow is the default Now implementation.
func SystemNow() time.Time { return time.Now() }

// Handle is a single armed timeout. Cancel is idempotent; a task that was
// already firing when Cancel is called will still observe IsCancelled after
// the fact and must no-op rather than run its effect.
type Handle interface {
	Cancel()
	IsCancelled() bool
}

// Timer arms one-shot tasks, keyed loosely by caller (the state machine
// keys them by device id, but the wheel itself doesn't need to know that).
type Timer interface {
	// AfterFunc arms task to run once after delay elapses. It returns a
	// Handle that can cancel the pending (or in-flight) firing.
	AfterFunc(delay time.Duration, task func()) Handle

	// Stop drops every handle this Timer has armed, without running their
	// tasks. Used on process shutdown.
	Stop()
}

// handle wraps a *time.Timer with the cancelled flag the design calls for:
// the flag is set *before* the underlying timer is stopped, so a task that
// is already executing (the race the note describes) observes it.
type handle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (h *handle) Cancel() {
	h.cancelled.Store(true)
	if h.timer != nil {
		h.timer.Stop()
	}
}

func (h *handle) IsCancelled() bool {
	return h.cancelled.Load()
}

// wheel is the default Timer, backed by the runtime's own timer heap via
// time.AfterFunc. It additionally tracks every handle it has armed so Stop
// can cancel them all at shutdown.
type wheel struct {
	mu      sync.Mutex
	handles map[*handle]struct{}
	stopped bool
}

// NewWheel constructs a Timer ready for use.
func NewWheel() Timer {
	return &wheel{handles: make(map[*handle]struct{})}
}

func (w *wheel) AfterFunc(delay time.Duration, task func()) Handle {
	h := &handle{}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		h.cancelled.Store(true)
		return h
	}

	h.timer = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.handles, h)
		w.mu.Unlock()

		if h.IsCancelled() {
			return
		}
		task()
	})
	w.handles[h] = struct{}{}
	w.mu.Unlock()

	return h
}

func (w *wheel) Stop() {
	w.mu.Lock()
	w.stopped = true
	handles := w.handles
	w.handles = make(map[*handle]struct{})
	w.mu.Unlock()

	for h := range handles {
		h.Cancel()
	}
}
