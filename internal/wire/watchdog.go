package wire

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIdleTimeout is the cancellation cause when no content arrived within
// the idle window.
var ErrIdleTimeout = errors.New("stream idle timeout")

// Watchdog cancels a context when Touch is not called within timeout.
// Keepalives must not call Touch.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelCauseFunc
	stopped bool
}

// NewWatchdog derives a context from parent that is cancelled with
// ErrIdleTimeout after timeout of inactivity. A non-positive timeout
// disables the watchdog.
func NewWatchdog(parent context.Context, timeout time.Duration) (context.Context, *Watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &Watchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			cancel(ErrIdleTimeout)
		})
	}
	return ctx, w
}

// Touch records real content and re-arms the timer.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer == nil {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the timer and releases the derived context.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel(context.Canceled)
}
