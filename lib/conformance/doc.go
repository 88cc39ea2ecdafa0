// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conformance carries the embedded decoder fixture corpus shared
// with peer implementations. Each corpus file is JSONC (JSON with
// comments and trailing commas) holding named cases: the raw wire bytes
// of a chunked stream, the decoder limits in force, and the expected
// terminal result (payload and frame count for a complete stream, or
// error kind and wire offset for a failing one).
//
// Files are embedded at compile time via go:embed. The primary
// consumers are the decoder test suite and "retrieval conformance",
// which runs every case under several input segmentations — whole
// buffer, single bytes, seeded random splits — and requires identical
// results from each. SourceHash pins the corpus bytes so independent
// implementations can confirm they tested against the same fixtures.
package conformance
