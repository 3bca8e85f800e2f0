package recording

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so timing can be driven by tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the real wall clock
var SystemClock Clock = systemClock{}

// Stopwatch measures the sum of active intervals. Pausing freezes the elapsed value;
// resuming continues from the frozen value rather than from the pause time.
type Stopwatch struct {
	clock Clock

	mu        sync.Mutex
	running   bool
	startedAt time.Time     // start of the current active interval
	frozen    time.Duration // total of all completed active intervals
}

func NewStopwatch(clock Clock) *Stopwatch {
	if clock == nil {
		clock = SystemClock
	}
	return &Stopwatch{clock: clock}
}

// Start resets the elapsed time to zero and starts measuring
func (w *Stopwatch) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frozen = 0
	w.startedAt = w.clock.Now()
	w.running = true
}

// Pause freezes the elapsed time. It is a no-op when not running.
func (w *Stopwatch) Pause() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.frozen += w.clock.Now().Sub(w.startedAt)
		w.running = false
	}
	return w.frozen
}

// Resume continues measuring from the frozen value. It is a no-op when already running.
func (w *Stopwatch) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		w.startedAt = w.clock.Now()
		w.running = true
	}
}

// Stop halts the stopwatch and returns the final elapsed time
func (w *Stopwatch) Stop() time.Duration {
	return w.Pause()
}

// Reset returns the stopwatch to zero, halted
func (w *Stopwatch) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frozen = 0
	w.running = false
}

func (w *Stopwatch) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return w.frozen + w.clock.Now().Sub(w.startedAt)
	}
	return w.frozen
}

func (w *Stopwatch) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
