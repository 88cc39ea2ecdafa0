// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool is the daemon's verified-content cache.
//
// Only content that verified against its digest is admitted: the
// daemon tees a retrieval's decoded bytes into a PutWriter and calls
// Commit only on a verified outcome, so the spool never holds bytes
// whose identity is unproven. Entries are keyed by digest and stored
// as flat files under data/<algorithm>/<hex>, compressed behind a
// one-byte tag when compression pays for itself.
//
// The write path is crash-safe: payloads stream to a temp file in the
// spool directory, are fsynced, and are renamed into place before the
// index row is written. A crash can orphan a temp file or a payload
// file, never an index row pointing at missing bytes. The read path
// re-verifies the stored bytes before serving; a corrupt entry is
// evicted and reported as a miss, so disk rot degrades to a re-fetch
// instead of serving wrong bytes.
//
// An exclusive flock on spool.lock enforces one daemon per directory.
// The janitor sweeps on a clock ticker, evicting entries idle longer
// than MaxAge and then least-recently-used entries until stored bytes
// fit MaxBytes.
package spool
