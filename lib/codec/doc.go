// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's standard CBOR encoding
// configuration.
//
// Two serialization formats appear in this module, with a clear
// boundary:
//
//   - CBOR for the cross-boundary contract: the length-prefixed
//     request/result frames exchanged with a host process
//     (lib/boundary). The contract must byte-agree across operating
//     systems, CPU architectures, and independent peer implementations,
//     so determinism is not optional here.
//   - JSON for human-facing surfaces: the daemon's status endpoint and
//     CLI output.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — which is exactly the conformance guarantee the boundary
// contract promises its peers.
//
// For buffer-oriented operations (frame payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
