// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// --- Now / Advance tests ---

func TestFakeClockNow(t *testing.T) {
	clk := Fake(testStart)
	if got := clk.Now(); !got.Equal(testStart) {
		t.Fatalf("Now() = %v, want %v", got, testStart)
	}

	clk.Advance(90 * time.Second)
	want := testStart.Add(90 * time.Second)
	if got := clk.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

// --- After tests ---

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	clk := Fake(testStart)
	fired := clk.After(3 * time.Second)

	select {
	case <-fired:
		t.Fatal("After delivered before any Advance")
	default:
	}

	clk.Advance(3 * time.Second)

	select {
	case <-fired:
	default:
		t.Fatal("After did not deliver once the deadline passed")
	}
}

func TestFakeClockAfterImmediate(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := Fake(testStart)
			select {
			case <-clk.After(tt.d):
			default:
				t.Fatalf("After(%v) should deliver without an Advance", tt.d)
			}
		})
	}
}

func TestFakeClockAfterPartialAdvance(t *testing.T) {
	clk := Fake(testStart)
	fired := clk.After(5 * time.Second)

	clk.Advance(4 * time.Second)
	select {
	case <-fired:
		t.Fatal("After delivered one second early")
	default:
	}

	clk.Advance(time.Second)
	select {
	case <-fired:
	default:
		t.Fatal("After did not deliver at the exact deadline")
	}
}

// --- AfterFunc tests ---

func TestFakeClockAfterFuncInvokesCallback(t *testing.T) {
	clk := Fake(testStart)
	var ran atomic.Bool
	clk.AfterFunc(2*time.Second, func() { ran.Store(true) })

	clk.Advance(time.Second)
	if ran.Load() {
		t.Fatal("callback ran before its deadline")
	}

	clk.Advance(time.Second)
	if !ran.Load() {
		t.Fatal("callback did not run at its deadline")
	}
}

func TestFakeClockAfterFuncZeroDuration(t *testing.T) {
	clk := Fake(testStart)
	var ran atomic.Bool
	clk.AfterFunc(0, func() { ran.Store(true) })

	// The fake runs immediate callbacks synchronously, so no Advance
	// and no sync needed.
	if !ran.Load() {
		t.Fatal("AfterFunc(0) should run the callback synchronously")
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	clk := Fake(testStart)
	var ran atomic.Bool
	timer := clk.AfterFunc(2*time.Second, func() { ran.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop() = false for a timer that had not fired")
	}

	clk.Advance(time.Minute)
	if ran.Load() {
		t.Fatal("callback ran despite Stop()")
	}
}

func TestFakeClockAfterFuncStopAlreadyFired(t *testing.T) {
	clk := Fake(testStart)
	timer := clk.AfterFunc(time.Second, func() {})

	clk.Advance(time.Second)

	if timer.Stop() {
		t.Fatal("Stop() = true for a timer that already fired")
	}
}

func TestFakeClockAfterFuncStopTwice(t *testing.T) {
	clk := Fake(testStart)
	timer := clk.AfterFunc(time.Second, func() {})

	if !timer.Stop() {
		t.Fatal("first Stop() = false, want true")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true, want false")
	}
}

func TestFakeClockOneShotDoesNotRepeat(t *testing.T) {
	clk := Fake(testStart)
	var runs atomic.Int32
	clk.AfterFunc(time.Second, func() { runs.Add(1) })

	for range 3 {
		clk.Advance(time.Second)
	}

	if got := runs.Load(); got != 1 {
		t.Fatalf("one-shot callback ran %d times, want 1", got)
	}
}

func TestFakeClockCallbacksRunInDeadlineOrder(t *testing.T) {
	clk := Fake(testStart)

	var mu sync.Mutex
	var order []int
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	// Register out of deadline order.
	clk.AfterFunc(3*time.Second, record(3))
	clk.AfterFunc(1*time.Second, record(1))
	clk.AfterFunc(2*time.Second, record(2))

	clk.Advance(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callback order = %v, want [1 2 3]", order)
	}
}

// --- Ticker tests ---

func TestFakeClockNewTicker(t *testing.T) {
	clk := Fake(testStart)
	ticker := clk.NewTicker(time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C:
		t.Fatal("tick before the first interval elapsed")
	default:
	}

	for i := range 2 {
		clk.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("no tick after interval %d", i+1)
		}
	}
}

func TestFakeClockTickerStop(t *testing.T) {
	clk := Fake(testStart)
	ticker := clk.NewTicker(time.Second)

	ticker.Stop()
	clk.Advance(time.Minute)

	select {
	case <-ticker.C:
		t.Fatal("tick delivered after Stop()")
	default:
	}
}

func TestFakeClockTickerPanicsOnNonPositive(t *testing.T) {
	clk := Fake(testStart)
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) should panic")
		}
	}()
	clk.NewTicker(0)
}

func TestFakeClockTickerDropsTicks(t *testing.T) {
	clk := Fake(testStart)
	ticker := clk.NewTicker(time.Second)
	defer ticker.Stop()

	// Cross several intervals without draining C. The buffer holds
	// one tick; later ones are dropped, matching time.Ticker.
	clk.Advance(5 * time.Second)

	select {
	case <-ticker.C:
	default:
		t.Fatal("expected one buffered tick")
	}
	select {
	case <-ticker.C:
		t.Fatal("more than one tick was buffered")
	default:
	}
}

// --- bookkeeping tests ---

func TestFakeClockWaitForTimers(t *testing.T) {
	clk := Fake(testStart)

	for range 3 {
		go func() {
			<-clk.After(5 * time.Second)
		}()
	}

	// Blocks until all three goroutines have registered.
	clk.WaitForTimers(3)

	if got := clk.PendingCount(); got != 3 {
		t.Fatalf("PendingCount() = %d, want 3", got)
	}
}

func TestFakeClockPendingCountExcludesStopped(t *testing.T) {
	clk := Fake(testStart)
	ticker := clk.NewTicker(time.Second)
	clk.AfterFunc(2*time.Second, func() {})

	if got := clk.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	ticker.Stop()
	if got := clk.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() after ticker Stop = %d, want 1", got)
	}
}

func TestFakeClockPendingCountExcludesFired(t *testing.T) {
	clk := Fake(testStart)
	clk.After(time.Second)
	clk.After(3 * time.Second)

	if got := clk.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	clk.Advance(2 * time.Second)
	if got := clk.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() after first fires = %d, want 1", got)
	}
}

func TestFakeClockConcurrentAccess(t *testing.T) {
	clk := Fake(testStart)
	const goroutines = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			clk.After(time.Second)
			clk.Now()
		}()
	}
	wg.Wait()

	clk.WaitForTimers(goroutines)
	clk.Advance(time.Second)
}

// --- interface checks ---

var (
	_ Clock = (*FakeClock)(nil)
	_ Clock = Real()
)
