// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunked decodes HTTP/1.1 chunked transfer-encoding from an
// untrusted byte source.
//
// The decoder is a pull-based state machine exposed through io.Reader:
// Read returns decoded payload bytes as they become available and
// io.EOF exactly when the terminal zero-length chunk and any trailer
// headers have been fully consumed. One [Decoder] serves exactly one
// byte stream; it is not restartable and not safe for concurrent use.
//
// Failures are classified, never collapsed into a generic error:
//
//   - [KindMalformed]: the server violated chunked framing — a non-hex
//     byte in a size line, a missing CRLF terminator, a bare LF. Fatal;
//     carries the wire offset of the violation.
//   - [KindTruncated]: the byte source ended (or failed) before the
//     terminal zero chunk. Reported distinctly from KindMalformed so
//     callers can tell "the server broke the protocol" from "the
//     connection dropped early" — the latter may be worth retrying,
//     the former never is.
//   - [KindSizeExceeded]: a declared chunk size, the cumulative decoded
//     size, or a protocol line exceeded its configured bound. Fatal;
//     protects against unbounded memory growth on hostile or buggy
//     servers.
//
// Errors are sticky: once the decoder fails, every subsequent Read
// returns the same *[Error], and the decoder reports [StateFailed].
//
// Chunk extensions (";name=value" after the size digits) are skipped
// without interpretation; trailer headers after the zero chunk are
// consumed and discarded. Both count toward the configured line-length
// bounds, so they cannot be used to stall the stream indefinitely.
package chunked
