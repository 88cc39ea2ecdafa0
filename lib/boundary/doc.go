// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package boundary is the embedding contract for hosts driving the
// retrieval engine from another language or process.
//
// The contract is deliberately flat: requests and results carry only
// strings and integers, encoded as deterministic CBOR behind a 4-byte
// big-endian length prefix. Deterministic encoding means independent
// implementations byte-agree on the same message, so the contract can
// be golden-tested from either side of the boundary.
//
// Serve runs the sequential request/response loop over any byte pipe
// (stdio in the `retrieval boundary serve` arrangement). The loop
// never leaks a Go error across the boundary: requests it cannot
// accept produce a "rejected" Result, and every accepted request
// produces exactly one Result. Only an unrecoverable framing failure
// (a partial or oversize frame) terminates the loop.
package boundary
