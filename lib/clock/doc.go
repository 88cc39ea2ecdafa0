// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.AfterFunc, or time.NewTicker directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// The two time consumers in this module are retrieval sessions (a
// per-session deadline armed with AfterFunc that force-closes the
// connection on expiry) and the spool janitor (a periodic sweep driven
// by NewTicker). Both are tested against FakeClock, so no test ever
// sleeps waiting for a deadline.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Session struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	s := &Session{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s := &Session{clock: c}
//	// ... start the session ...
//	c.WaitForTimers(1)          // wait for the deadline to register
//	c.Advance(20 * time.Second) // fire it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls After, AfterFunc, or NewTicker on a FakeClock,
// it registers a pending timer. Use WaitForTimers to block until a
// specific number of timers are registered before calling Advance. This
// eliminates the race between timer registration and time advancement
// that plagues tests using time.Sleep for synchronization.
package clock
