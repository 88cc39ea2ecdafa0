// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest provides algorithm-tagged content digests and the
// streaming verifier used to check retrieved bytes against an expected
// content identity.
//
// A [Digest] is a 32-byte sum plus an [Algorithm] tag. Equality is
// byte-exact, including the algorithm — a sha256 sum never equals a
// blake3 sum, even for the same content. The canonical text form is
// "<algorithm>:<64 hex chars>" (e.g. "blake3:4f9c..."), which is the
// representation used in the cross-boundary contract, CLI flags,
// configuration, and logs. Digest implements encoding.TextMarshaler
// and TextUnmarshaler, so it travels as a text string through CBOR,
// JSON, and YAML without further glue.
//
// A [Verifier] consumes content incrementally through io.Writer, so
// memory use is bounded regardless of content length. At end of
// stream, [Verifier.Verify] compares the computed digest against the
// expected one and returns a [MismatchError] carrying both sides on
// any inequality. Verification is a trust decision, not an advisory
// check: a mismatch is never tolerated, including length mismatches
// (which simply produce a different sum).
package digest
