package rabbittest

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ backoff.Timer = (*Timer)(nil)

// Timer is a backoff.Timer which fires immediately and records requested delays.
type Timer struct {
	mux    sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

// NewTimer creates new Timer.
func NewTimer() *Timer {
	return &Timer{c: make(chan time.Time, 1)}
}

// Start records delay and fires.
func (t *Timer) Start(duration time.Duration) {
	t.mux.Lock()
	t.delays = append(t.delays, duration)
	t.mux.Unlock()

	select {
	case t.c <- time.Now():
	default:
	}
}

// Stop drains a pending tick so the timer can be reused.
func (t *Timer) Stop() {
	select {
	case <-t.c:
	default:
	}
}

// C returns ticks.
func (t *Timer) C() <-chan time.Time {
	return t.c
}

// Delays returns all recorded delays in order.
func (t *Timer) Delays() []time.Duration {
	t.mux.Lock()
	defer t.mux.Unlock()

	return append([]time.Duration(nil), t.delays...)
}
