// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/retrieval/lib/fetch"
)

// recordingRunner answers every request with a canned outcome and
// remembers what it was asked to run.
type recordingRunner struct {
	requests []fetch.Request
	outcome  fetch.Outcome
}

func (r *recordingRunner) run(ctx context.Context, req fetch.Request) fetch.Outcome {
	r.requests = append(r.requests, req)
	return r.outcome
}

func writeRequests(t *testing.T, reqs ...Request) *bytes.Buffer {
	t.Helper()
	var wire bytes.Buffer
	for _, req := range reqs {
		if err := WriteMessage(&wire, req); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	return &wire
}

func readResults(t *testing.T, wire *bytes.Buffer) []Result {
	t.Helper()
	var results []Result
	for {
		var result Result
		err := ReadMessage(wire, &result)
		if err == io.EOF {
			return results
		}
		if err != nil {
			t.Fatalf("reading result stream: %v", err)
		}
		results = append(results, result)
	}
}

func TestServeAnswersEachRequest(t *testing.T) {
	good := testDigest(t, "Wikipedia").String()
	input := writeRequests(t,
		Request{Version: ContractVersion, URL: "http://origin.example/a", Digest: good},
		Request{Version: ContractVersion, URL: "http://origin.example/b", Digest: good, TimeoutMS: 2500},
	)
	runner := &recordingRunner{outcome: fetch.Outcome{Code: fetch.OutcomeVerified, ByteCount: 9, Elapsed: 250 * time.Millisecond}}
	var output bytes.Buffer

	if err := Serve(context.Background(), input, &output, runner.run); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	results := readResults(t, &output)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, result := range results {
		if result.Outcome != "verified" || result.ByteCount != 9 || result.ElapsedMS != 250 {
			t.Errorf("results[%d] = %+v, want verified/9/250ms", i, result)
		}
	}
	if len(runner.requests) != 2 {
		t.Fatalf("runner ran %d requests, want 2", len(runner.requests))
	}
	if runner.requests[1].URL != "http://origin.example/b" {
		t.Errorf("second request URL = %q", runner.requests[1].URL)
	}
	if want := 2500 * time.Millisecond; runner.requests[1].Timeout != want {
		t.Errorf("second request Timeout = %v, want %v", runner.requests[1].Timeout, want)
	}
}

func TestServeRejectsWithoutRunning(t *testing.T) {
	good := testDigest(t, "Wikipedia").String()
	input := writeRequests(t,
		Request{Version: 7, URL: "http://origin.example/a", Digest: good},
		Request{Version: ContractVersion, URL: "http://origin.example/b", Digest: "blake3:junk"},
		Request{Version: ContractVersion, URL: "http://origin.example/c", Digest: good},
	)
	runner := &recordingRunner{outcome: fetch.Outcome{Code: fetch.OutcomeVerified, ByteCount: 9}}
	var output bytes.Buffer

	if err := Serve(context.Background(), input, &output, runner.run); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	results := readResults(t, &output)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Outcome != OutcomeRejected || results[1].Outcome != OutcomeRejected {
		t.Errorf("rejections = %q, %q, want rejected/rejected", results[0].Outcome, results[1].Outcome)
	}
	if results[0].Detail == "" || results[1].Detail == "" {
		t.Error("rejected results carry no detail")
	}
	if results[2].Outcome != "verified" {
		t.Errorf("results[2].Outcome = %q, want verified", results[2].Outcome)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("runner ran %d requests, want 1 (rejections must not run)", len(runner.requests))
	}
}

func TestServeRejectsUndecodablePayload(t *testing.T) {
	good := testDigest(t, "Wikipedia").String()
	input := writeRequests(t, Request{Version: ContractVersion, URL: "http://origin.example/a", Digest: good})

	// Splice a well-framed but undecodable message ahead of the
	// valid request.
	var spliced bytes.Buffer
	spliced.Write([]byte{0x00, 0x00, 0x00, 0x02, 0xff, 0x00})
	spliced.Write(input.Bytes())

	runner := &recordingRunner{outcome: fetch.Outcome{Code: fetch.OutcomeVerified, ByteCount: 9}}
	var output bytes.Buffer
	if err := Serve(context.Background(), &spliced, &output, runner.run); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	results := readResults(t, &output)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Outcome != OutcomeRejected {
		t.Errorf("results[0].Outcome = %q, want rejected", results[0].Outcome)
	}
	if results[1].Outcome != "verified" {
		t.Errorf("results[1].Outcome = %q, want verified", results[1].Outcome)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("runner ran %d requests, want 1", len(runner.requests))
	}
}

func TestServeStopsWhenFramingIsLost(t *testing.T) {
	good := testDigest(t, "Wikipedia").String()
	input := writeRequests(t, Request{Version: ContractVersion, URL: "http://origin.example/a", Digest: good})
	input.Write([]byte{0x00, 0x01}) // stream dies inside the next length prefix

	runner := &recordingRunner{outcome: fetch.Outcome{Code: fetch.OutcomeVerified, ByteCount: 9}}
	var output bytes.Buffer
	err := Serve(context.Background(), input, &output, runner.run)

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorPartial {
		t.Fatalf("Serve = %v, want partial *FrameError", err)
	}
	if results := readResults(t, &output); len(results) != 1 {
		t.Fatalf("got %d results before the failure, want 1", len(results))
	}
}

func TestServeStopsOnOversizeFrame(t *testing.T) {
	var input bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
	input.Write(prefix[:])

	err := Serve(context.Background(), &input, io.Discard, (&recordingRunner{}).run)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorOversize {
		t.Fatalf("Serve = %v, want oversize *FrameError", err)
	}
}

func TestServeCleanShutdown(t *testing.T) {
	var output bytes.Buffer
	if err := Serve(context.Background(), bytes.NewReader(nil), &output, (&recordingRunner{}).run); err != nil {
		t.Fatalf("Serve on closed stream = %v, want nil", err)
	}
	if output.Len() != 0 {
		t.Fatalf("Serve wrote %d bytes with no input", output.Len())
	}
}

func TestServeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	good := testDigest(t, "Wikipedia").String()
	input := writeRequests(t, Request{Version: ContractVersion, URL: "http://origin.example/a", Digest: good})
	var output bytes.Buffer

	err := Serve(ctx, input, &output, (&recordingRunner{}).run)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve = %v, want context.Canceled", err)
	}
	if output.Len() != 0 {
		t.Fatalf("Serve wrote %d bytes after cancellation", output.Len())
	}
}
