package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source used by pacing loops. Components depend on this
// interface rather than the wall clock so tests can run passes in virtual
// time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time from the configured start.
	RealTime Mode = iota
	// Accelerated only advances when asked: After jumps straight to the
	// deadline and Start steps by Tick as fast as the ticker fires.
	Accelerated
)

// TimeController drives a clock that may be offset from, or detached from,
// wall time and notifies registered listeners when it advances.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime is the controller time at wall instant anchor.
	currentTime time.Time
	anchor      time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller starting at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		anchor:      time.Now(),
	}
}

// Now returns the controller's current time. Implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.nowLocked()
}

func (tc *TimeController) nowLocked() time.Time {
	if tc.Mode == RealTime {
		return tc.currentTime.Add(time.Since(tc.anchor))
	}
	return tc.currentTime
}

// SetTime jumps the controller to t and notifies listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.anchor = time.Now()
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// Advance moves the controller forward by d and notifies listeners.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	now := tc.nowLocked().Add(d)
	tc.currentTime = now
	tc.anchor = time.Now()
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// After returns a channel that fires once d has elapsed in controller time.
// In Accelerated mode the controller jumps forward by d immediately.
// Implements Clock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	if d < 0 {
		d = 0
	}
	ch := make(chan time.Time, 1)
	if tc.Mode == Accelerated {
		ch <- tc.Advance(d)
		return ch
	}
	go func() {
		<-time.After(d)
		ch <- tc.Now()
	}()
	return ch
}

// AddListener registers a callback invoked whenever the controller advances.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start steps the controller by Tick on every wall-clock tick for the given
// duration (0 runs until stop is closed). It returns a channel closed when
// the loop exits.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			elapsed += tc.Tick

			if tc.Mode == Accelerated {
				tc.Advance(tc.Tick)
				continue
			}
			// Real time advances on its own; just notify.
			tc.mu.RLock()
			now := tc.nowLocked()
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.RUnlock()
			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}
