// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into anything that schedules:
// session deadlines, the spool janitor. Production wiring passes
// Real(); tests pass Fake() and drive it with Advance.
//
// Code under this module never calls time.Now, time.After,
// time.AfterFunc, or time.NewTicker directly; it takes a Clock (or
// sits on a struct holding one) so tests stay deterministic.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel delivering the time once d has elapsed,
	// like time.After. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d and returns a Timer whose
	// Stop cancels the pending call. The Timer's C is nil, matching
	// time.AfterFunc. A non-positive d runs f immediately: in a fresh
	// goroutine on the real clock, synchronously on the fake.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d, like
	// time.NewTicker. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C until stopped. C has capacity
// 1, matching time.Ticker: a slow consumer drops ticks instead of
// queueing them.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func()
}

// Stop ends the tick stream. C is not closed, and no tick is sent
// after Stop returns.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer is a pending AfterFunc call. C is always nil here; After
// hands out only its channel, so the Timer type surfaces solely for
// AfterFunc cancellation.
type Timer struct {
	// C delivers the timer event. Nil for AfterFunc timers.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop cancels the pending call. It reports false when the timer
// already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
