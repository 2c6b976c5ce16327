package switchengine

import (
	"sync"
	"time"
)

// Watchdog is a single-shot timer that delivers at most one timeout event
// per arm/restart cycle. A suspend or restart issued before the deadline
// prevents the pending delivery, even if the timer has already fired and
// is racing to acquire the lock.
//
// Grounded on the timer-guarded state transitions of CircuitBreaker (timer
// deadlines compared under a mutex rather than polled), but built on
// time.AfterFunc instead of polling time.Since, with a generation counter
// added so a timer goroutine that already fired cannot deliver a stale
// event after a subsequent suspend/restart reused the same index.
type Watchdog struct {
	mu         sync.Mutex
	onTimeout  func(index int)
	timer      *time.Timer
	generation uint64
	armed      bool
	index      int
}

// NewWatchdog creates a Watchdog that calls onTimeout from its own timer
// goroutine when a deadline expires without an intervening suspend or
// restart.
func NewWatchdog(onTimeout func(index int)) *Watchdog {
	return &Watchdog{onTimeout: onTimeout}
}

// Arm starts (or restarts) the timer for index, to fire after d.
func (w *Watchdog) Arm(index int, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.index = index
	w.armed = true
	w.generation++
	gen := w.generation
	w.timer = time.AfterFunc(d, func() { w.fire(gen) })
}

// Suspend cancels any pending timeout without discarding the armed index,
// so a later Restart resumes watching the same input.
func (w *Watchdog) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.armed = false
	w.generation++
}

// Restart re-arms the timer on the same index with a fresh deadline d.
// Equivalent to Arm(currentIndex, d); it is an error to call Restart
// before any Arm.
func (w *Watchdog) Restart(d time.Duration) {
	w.mu.Lock()
	index := w.index
	w.mu.Unlock()
	w.Arm(index, d)
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// fire runs on the timer's own goroutine. gen pins this callback to the
// arm/restart cycle that scheduled it; if the watchdog has since moved to
// a new generation (suspended, restarted, or re-armed) the event is
// stale and discarded before onTimeout is ever invoked.
func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.armed || gen != w.generation {
		w.mu.Unlock()
		return
	}
	index := w.index
	w.armed = false
	w.mu.Unlock()

	w.onTimeout(index)
}
