// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch runs retrieval sessions: connect to an origin over raw
// TCP (plus TLS for https), issue a minimal HTTP/1.1 GET, drive the
// chunked response body through the decoder, and verify the decoded
// bytes against an expected digest as they stream.
//
// A Session serves exactly one request and produces exactly one
// Outcome. Fetch never returns a Go error: every way a retrieval can
// end — verified content, digest mismatch, protocol violation,
// connection failure, timeout, cancellation — is one of the closed set
// of outcome codes, so callers never interpret error strings.
//
// The transport is deliberately below net/http: the wire bytes must
// reach the chunk decoder untouched, and net/http de-chunks
// transparently. Timeouts and cancellation work by closing the
// connection, which forcibly unblocks any pending read; the recorded
// cause, not the resulting read error, decides the outcome code.
package fetch
