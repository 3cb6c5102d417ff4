// Package clock abstracts timers so session timing can be driven by tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.t.C }
func (t realTimer) Stop() bool          { return t.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }

// Manual only moves when Advance is called. Timers and tickers whose
// deadline is reached during an Advance fire once, in creation order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTimer(d time.Duration) Timer {
	return m.add(d, false)
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	return manualTicker{m.add(d, true)}
}

func (m *Manual) add(d time.Duration, repeat bool) *manualWaiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{
		ch:       make(chan time.Time, 1),
		deadline: m.now.Add(d),
		interval: d,
		repeat:   repeat,
	}
	m.waiters = append(m.waiters, w)
	return w
}

// Advance moves the clock forward by d and fires what became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	waiters := make([]*manualWaiter, 0, len(m.waiters))
	live := m.waiters[:0]
	for _, w := range m.waiters {
		if w.active() {
			waiters = append(waiters, w)
			live = append(live, w)
		}
	}
	m.waiters = live
	m.mu.Unlock()

	for _, w := range waiters {
		w.fire(now)
	}
}

// Active counts timers and tickers that are neither stopped nor spent.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.waiters {
		if w.active() {
			n++
		}
	}
	return n
}

type manualWaiter struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	interval time.Duration
	repeat   bool
	stopped  bool
	fired    bool
}

func (w *manualWaiter) C() <-chan time.Time { return w.ch }

func (w *manualWaiter) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	wasActive := !w.stopped && !w.fired
	w.stopped = true
	return wasActive
}

// manualTicker drops the Stop result so a waiter satisfies Ticker.
type manualTicker struct{ w *manualWaiter }

func (t manualTicker) C() <-chan time.Time { return t.w.C() }
func (t manualTicker) Stop()               { t.w.Stop() }

func (w *manualWaiter) active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.stopped && !w.fired
}

func (w *manualWaiter) fire(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.fired || now.Before(w.deadline) {
		return
	}
	select {
	case w.ch <- now:
	default:
	}
	if !w.repeat {
		w.fired = true
		return
	}
	for !w.deadline.After(now) {
		w.deadline = w.deadline.Add(w.interval)
	}
}
