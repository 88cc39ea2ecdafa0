// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool backing the
// daemon's spool index.
//
// It wraps zombiezen.com/go/sqlite with production defaults: WAL
// journal mode for concurrent readers alongside the single writer,
// NORMAL synchronous for process-crash durability without per-commit
// fsync cost, and a busy timeout so write contention waits instead of
// failing. Callers [Pool.Take] a connection, run SQL with sqlitex, and
// [Pool.Put] it back; connections are not safe for concurrent use.
//
// The index tolerates this durability level: the spool's source of
// truth is the digest-named payload files, and an index row lost to an
// OS crash is re-created on the next Put or healed to a miss on the
// next Open.
package sqlitepool
