// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/retrieval/lib/boundary"
	"github.com/bureau-foundation/retrieval/lib/fetch"
	"github.com/bureau-foundation/retrieval/lib/spool"
)

// --- boundaryRunner tests ---

func TestBoundaryRunnerVerifiesWithoutSpool(t *testing.T) {
	url := originServer(t, chunkedOK)
	runner := boundaryRunner(fetch.Config{Timeout: 10 * time.Second}, nil, slog.New(slog.DiscardHandler))

	outcome := runner(t.Context(), fetch.Request{URL: url, Digest: mustDigest(t, "Wikipedia")})
	if outcome.Code != fetch.OutcomeVerified {
		t.Fatalf("outcome = %v (%s), want verified", outcome.Code, outcome.Detail)
	}
	if outcome.ByteCount != 9 {
		t.Errorf("ByteCount = %d, want 9", outcome.ByteCount)
	}
}

func TestBoundaryRunnerCommitsVerifiedToSpool(t *testing.T) {
	store, err := spool.Open(spool.Config{Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("spool.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	url := originServer(t, chunkedOK)
	d := mustDigest(t, "Wikipedia")
	runner := boundaryRunner(fetch.Config{Timeout: 10 * time.Second}, store, slog.New(slog.DiscardHandler))

	outcome := runner(t.Context(), fetch.Request{URL: url, Digest: d})
	if outcome.Code != fetch.OutcomeVerified {
		t.Fatalf("outcome = %v (%s), want verified", outcome.Code, outcome.Detail)
	}

	reader, entry, err := store.Open(t.Context(), d)
	if err != nil {
		t.Fatalf("spool.Open(digest) error: %v", err)
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading spooled payload: %v", err)
	}
	if string(payload) != "Wikipedia" {
		t.Errorf("spooled payload = %q, want %q", payload, "Wikipedia")
	}
	if entry.SourceURL != url {
		t.Errorf("SourceURL = %q, want %q", entry.SourceURL, url)
	}
}

func TestBoundaryRunnerMismatchCommitsNothing(t *testing.T) {
	store, err := spool.Open(spool.Config{Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("spool.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	url := originServer(t, chunkedOK)
	wrong := mustDigest(t, "not this content")
	runner := boundaryRunner(fetch.Config{Timeout: 10 * time.Second}, store, slog.New(slog.DiscardHandler))

	outcome := runner(t.Context(), fetch.Request{URL: url, Digest: wrong})
	if outcome.Code != fetch.OutcomeMismatch {
		t.Fatalf("outcome = %v, want mismatch", outcome.Code)
	}

	cached, err := store.Contains(t.Context(), wrong)
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if cached {
		t.Error("mismatched content was committed to the spool")
	}
}

// --- decodeFrames tests ---

func TestDecodeFramesRendersEachFrame(t *testing.T) {
	var wire bytes.Buffer
	request := boundary.Request{
		Version: boundary.ContractVersion,
		URL:     "http://origin.example/a.bin",
		Digest:  "sha256:" + strings.Repeat("ab", 32),
	}
	result := boundary.Result{Version: boundary.ContractVersion, Outcome: "verified", ByteCount: 9}
	if err := boundary.WriteMessage(&wire, request); err != nil {
		t.Fatalf("WriteMessage(request): %v", err)
	}
	if err := boundary.WriteMessage(&wire, result); err != nil {
		t.Fatalf("WriteMessage(result): %v", err)
	}

	var out bytes.Buffer
	if err := decodeFrames(&wire, &out); err != nil {
		t.Fatalf("decodeFrames() error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "origin.example") {
		t.Errorf("first frame %q missing the request URL", lines[0])
	}
	if !strings.Contains(lines[1], "verified") {
		t.Errorf("second frame %q missing the outcome", lines[1])
	}
}

func TestDecodeFramesEmptyInput(t *testing.T) {
	err := decodeFrames(bytes.NewReader(nil), &bytes.Buffer{})
	if err == nil {
		t.Fatal("decodeFrames() = nil, want error for empty input")
	}
}

func TestDecodeFramesTruncatedFrame(t *testing.T) {
	err := decodeFrames(bytes.NewReader([]byte{0x00, 0x00}), &bytes.Buffer{})
	if err == nil {
		t.Fatal("decodeFrames() = nil, want error for truncated frame")
	}
	if !strings.Contains(err.Error(), "frame 0") {
		t.Errorf("error = %q, want it to name the failing frame", err.Error())
	}
}
