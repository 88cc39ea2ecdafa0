// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/bureau-foundation/retrieval/lib/chunked"
)

// Segmentation controls how a case's wire bytes reach the decoder.
// Decoder results must not depend on it.
type Segmentation struct {
	Name   string
	Reader func(wire []byte) io.Reader
}

// StandardSegmentations returns the three delivery patterns every case
// must survive: the whole stream in one read, one byte per read, and
// seeded random split sizes.
func StandardSegmentations(seed int64) []Segmentation {
	return []Segmentation{
		{
			Name:   "whole",
			Reader: func(wire []byte) io.Reader { return bytes.NewReader(wire) },
		},
		{
			Name:   "single-byte",
			Reader: func(wire []byte) io.Reader { return &segmentedReader{data: wire, max: 1} },
		},
		{
			Name: fmt.Sprintf("random-splits-%d", seed),
			Reader: func(wire []byte) io.Reader {
				return &segmentedReader{data: wire, max: 8, rng: rand.New(rand.NewSource(seed))}
			},
		},
	}
}

// segmentedReader delivers at most max bytes per read, with the exact
// size drawn from rng when present.
type segmentedReader struct {
	data []byte
	max  int
	rng  *rand.Rand
}

func (r *segmentedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := min(len(r.data), len(p), r.max)
	if r.rng != nil {
		size = 1 + r.rng.Intn(size)
	}
	n := copy(p, r.data[:size])
	r.data = r.data[n:]
	return n, nil
}

// Run executes one case under one segmentation and returns the first
// divergence from the expected result, or nil.
func Run(c Case, seg Segmentation) error {
	wire, err := c.WireBytes()
	if err != nil {
		return err
	}
	wantPayload, err := c.ExpectedPayload()
	if err != nil {
		return err
	}

	decoder := chunked.NewDecoder(seg.Reader(wire), c.DecoderLimits())
	payload, readErr := io.ReadAll(decoder)

	if !bytes.Equal(payload, wantPayload) {
		return fmt.Errorf("payload = %x, want %x", payload, wantPayload)
	}

	if c.Expect.ErrorKind == "" {
		if readErr != nil {
			return fmt.Errorf("decode failed: %v, want complete stream", readErr)
		}
		if got := decoder.Frames(); got != c.Expect.Frames {
			return fmt.Errorf("frames = %d, want %d", got, c.Expect.Frames)
		}
		if got := decoder.State(); got != chunked.StateDone {
			return fmt.Errorf("state = %v, want %v", got, chunked.StateDone)
		}
		return nil
	}

	var decodeErr *chunked.Error
	if !errors.As(readErr, &decodeErr) {
		return fmt.Errorf("decode returned %v, want %s error", readErr, c.Expect.ErrorKind)
	}
	if got := decodeErr.Kind.String(); got != c.Expect.ErrorKind {
		return fmt.Errorf("error kind = %s, want %s (detail: %s)", got, c.Expect.ErrorKind, decodeErr.Detail)
	}
	if decodeErr.Offset != c.Expect.Offset {
		return fmt.Errorf("error offset = %d, want %d (detail: %s)", decodeErr.Offset, c.Expect.Offset, decodeErr.Detail)
	}
	return nil
}
