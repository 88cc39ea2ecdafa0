// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/retrieval/lib/clock"
	"github.com/bureau-foundation/retrieval/lib/digest"
)

func entryDigests(t *testing.T, s *Spool, digests ...digest.Digest) []bool {
	t.Helper()
	present := make([]bool, len(digests))
	for i, d := range digests {
		ok, err := s.Contains(context.Background(), d)
		if err != nil {
			t.Fatalf("Contains() error: %v", err)
		}
		present[i] = ok
	}
	return present
}

func TestSweepEvictsAged(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	s := newTestSpool(t, Config{Clock: fc, MaxAge: time.Hour})

	stale := mustPut(t, s, "stale entry")
	fc.Advance(2 * time.Hour)
	fresh := mustPut(t, s, "fresh entry")

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.EvictedEntries != 1 {
		t.Fatalf("EvictedEntries = %d, want 1", stats.EvictedEntries)
	}
	if stats.FreedBytes != int64(len("stale entry"))+1 {
		t.Errorf("FreedBytes = %d, want %d", stats.FreedBytes, len("stale entry")+1)
	}

	present := entryDigests(t, s, stale, fresh)
	if present[0] || !present[1] {
		t.Errorf("after sweep: stale present=%v fresh present=%v, want false/true", present[0], present[1])
	}
}

func TestSweepEvictsLRUOverCap(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	// Payloads are 100 bytes, stored as 101 with the tag byte. A cap
	// of 150 forces two evictions from a three-entry spool.
	s := newTestSpool(t, Config{Clock: fc, MaxBytes: 150})

	payload := func(fill byte) string {
		b := make([]byte, 100)
		for i := range b {
			b[i] = fill
		}
		return string(b)
	}
	first := mustPut(t, s, payload('a'))
	fc.Advance(time.Second)
	second := mustPut(t, s, payload('b'))
	fc.Advance(time.Second)
	third := mustPut(t, s, payload('c'))
	fc.Advance(time.Second)

	// Touch the oldest entry so it becomes the most recently used.
	reader, _, err := s.Open(context.Background(), first)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	reader.Close()

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.EvictedEntries != 2 {
		t.Fatalf("EvictedEntries = %d, want 2", stats.EvictedEntries)
	}

	present := entryDigests(t, s, first, second, third)
	if !present[0] || present[1] || present[2] {
		t.Errorf("after sweep: present = %v, want [true false false]", present)
	}

	after, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if after.StoredBytes > 150 {
		t.Errorf("StoredBytes = %d, want <= 150", after.StoredBytes)
	}
}

func TestSweepNoLimitsIsNoOp(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	s := newTestSpool(t, Config{Clock: fc})
	d := mustPut(t, s, "kept forever")
	fc.Advance(1000 * time.Hour)

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if stats.EvictedEntries != 0 {
		t.Errorf("EvictedEntries = %d, want 0", stats.EvictedEntries)
	}
	if present := entryDigests(t, s, d); !present[0] {
		t.Error("entry evicted with no limits configured")
	}
}

func TestRunJanitorTicks(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	s := newTestSpool(t, Config{
		Clock:         fc,
		MaxAge:        30 * time.Second,
		SweepInterval: time.Minute,
	})
	d := mustPut(t, s, "janitor fodder")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunJanitor(ctx)
	}()
	fc.WaitForTimers(1)

	fc.Advance(time.Minute)

	// The tick is consumed on the janitor goroutine; poll until the
	// sweep lands.
	deadline := time.Now().Add(10 * time.Second)
	for {
		if present := entryDigests(t, s, d); !present[0] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor did not evict the aged entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("RunJanitor did not return after cancellation")
	}
}
