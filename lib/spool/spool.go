// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/retrieval/lib/clock"
	"github.com/bureau-foundation/retrieval/lib/digest"
	"github.com/bureau-foundation/retrieval/lib/sqlitepool"
)

// DefaultSweepInterval is the janitor cadence when the config leaves
// it zero.
const DefaultSweepInterval = time.Minute

var (
	// ErrMiss: the digest has no usable spool entry. Corrupt entries
	// surface as ErrMiss after eviction, so callers re-fetch.
	ErrMiss = errors.New("spool: miss")

	// ErrLocked: another daemon holds the spool directory.
	ErrLocked = errors.New("spool: directory locked by another daemon")
)

// Config holds spool construction parameters. Directory is required.
type Config struct {
	// Directory is the spool root. Created if absent. Holds
	// spool.db, spool.lock, and data/<algorithm>/<hex> payload
	// files.
	Directory string

	// MaxBytes caps stored (post-compression) bytes; the janitor
	// evicts least-recently-used entries above it. 0 means no cap.
	MaxBytes int64

	// MaxAge evicts entries idle longer than this. 0 means no age
	// eviction.
	MaxAge time.Duration

	// Compression is the tag for new entries. Payloads that do not
	// shrink under it are stored as CompressionNone.
	Compression CompressionTag

	// SweepInterval is the janitor cadence; 0 means
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// PoolSize is the index connection pool size; 0 means the
	// sqlitepool default.
	PoolSize int

	// Clock provides time; nil means the real clock.
	Clock clock.Clock

	// Logger receives spool activity; nil discards.
	Logger *slog.Logger
}

// Entry describes one spooled payload.
type Entry struct {
	Digest      digest.Digest
	PayloadSize int64
	StoredSize  int64
	Compression CompressionTag
	SourceURL   string
	CreatedAt   time.Time
	AccessedAt  time.Time
}

// Stats is a point-in-time summary for the daemon status surface.
type Stats struct {
	Entries      int64
	PayloadBytes int64
	StoredBytes  int64
	Hits         int64
	Misses       int64
	Evicted      int64
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS entries (
	digest       TEXT PRIMARY KEY,
	payload_size INTEGER NOT NULL,
	stored_size  INTEGER NOT NULL,
	compression  INTEGER NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	accessed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_by_access ON entries(accessed_at);
`

// Spool is a digest-keyed verified-content cache. Safe for concurrent
// use.
type Spool struct {
	dir    string
	config Config
	clock  clock.Clock
	logger *slog.Logger
	pool   *sqlitepool.Pool
	lock   *os.File

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

// Open prepares the spool directory, takes its exclusive lock, and
// opens the index. Returns ErrLocked when another process holds the
// directory.
func Open(cfg Config) (*Spool, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("spool: Directory is required")
	}
	if cfg.MaxBytes < 0 || cfg.MaxAge < 0 || cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("spool: negative limit")
	}
	if cfg.Compression > CompressionZstd {
		return nil, fmt.Errorf("spool: unsupported compression tag %d", cfg.Compression)
	}

	s := &Spool{
		dir:    cfg.Directory,
		config: cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Directory, "data"), 0o700); err != nil {
		return nil, fmt.Errorf("spool: creating directory: %w", err)
	}

	lock, err := acquireLock(filepath.Join(cfg.Directory, "spool.lock"))
	if err != nil {
		return nil, err
	}
	s.lock = lock

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(cfg.Directory, "spool.db"),
		PoolSize: cfg.PoolSize,
		Logger:   s.logger,
		Schema:   indexSchema,
	})
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("spool: opening index: %w", err)
	}
	s.pool = pool

	s.logger.Info("spool opened",
		"directory", cfg.Directory,
		"max_bytes", cfg.MaxBytes,
		"max_age", cfg.MaxAge,
		"compression", cfg.Compression.String(),
	)
	return s, nil
}

// Close releases the index pool and the directory lock.
func (s *Spool) Close() error {
	err := s.pool.Close()
	releaseLock(s.lock)
	return err
}

func acquireLock(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("spool: opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("spool: locking %s: %w", path, err)
	}
	return file, nil
}

func releaseLock(file *os.File) {
	unix.Flock(int(file.Fd()), unix.LOCK_UN)
	file.Close()
}

// entryPath returns the payload file for a digest.
func (s *Spool) entryPath(d digest.Digest) string {
	sum := d.Sum()
	return filepath.Join(s.dir, "data", d.Algorithm().String(), hex.EncodeToString(sum[:]))
}

// --- write path ---

// PutWriter accumulates one payload. Write the decoded bytes as they
// arrive, then Commit after the content verified, or Abort. A
// PutWriter is single-use and not safe for concurrent use.
type PutWriter struct {
	spool     *Spool
	digest    digest.Digest
	sourceURL string
	file      *os.File
	written   int64
	done      bool
}

// Put opens a PutWriter for the given digest. The payload streams to
// a temp file in the spool directory; nothing becomes visible until
// Commit.
func (s *Spool) Put(d digest.Digest, sourceURL string) (*PutWriter, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("spool: put with zero digest")
	}
	file, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return nil, fmt.Errorf("spool: creating temp file: %w", err)
	}
	// The temp file is a valid CompressionNone payload file from the
	// first byte, so the no-compression commit path is a plain
	// rename.
	if _, err := file.Write([]byte{byte(CompressionNone)}); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("spool: writing payload tag: %w", err)
	}
	return &PutWriter{spool: s, digest: d, sourceURL: sourceURL, file: file}, nil
}

// Write appends payload bytes to the pending entry.
func (w *PutWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("spool: write after commit or abort")
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("spool: writing payload: %w", err)
	}
	return n, nil
}

// Abort discards the pending entry. Safe to call after Commit; it
// then does nothing, so callers can defer it.
func (w *PutWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	os.Remove(w.file.Name())
}

// Commit makes the entry visible: compresses when configured and
// worthwhile, fsyncs, renames into the data tree, and writes the
// index row. Call only after the payload verified against the digest.
func (w *PutWriter) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("spool: commit after commit or abort")
	}
	w.done = true
	return w.spool.commit(ctx, w)
}

func (s *Spool) commit(ctx context.Context, w *PutWriter) error {
	chosen := w.file
	storedSize := w.written + 1
	tag := CompressionNone

	if s.config.Compression != CompressionNone && w.written > 0 {
		encoded, encodedSize, err := s.encodePayload(w.file, s.config.Compression)
		switch {
		case err != nil:
			s.logger.Warn("spool compression failed, storing raw",
				"digest", w.digest.String(), "error", err)
		case encodedSize < storedSize:
			chosen = encoded
			storedSize = encodedSize
			tag = s.config.Compression
			w.file.Close()
			os.Remove(w.file.Name())
		default:
			// Incompressible; keep the raw form.
			encoded.Close()
			os.Remove(encoded.Name())
		}
	}

	if err := chosen.Sync(); err != nil {
		discardTemp(chosen)
		return fmt.Errorf("spool: syncing payload: %w", err)
	}
	tempPath := chosen.Name()
	if err := chosen.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("spool: closing payload: %w", err)
	}

	finalPath := s.entryPath(w.digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("spool: creating algorithm directory: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("spool: publishing payload: %w", err)
	}

	now := s.clock.Now().Unix()
	if err := s.upsert(ctx, w, storedSize, tag, now); err != nil {
		return err
	}

	s.logger.Debug("spool entry committed",
		"digest", w.digest.String(),
		"payload_bytes", w.written,
		"stored_bytes", storedSize,
		"compression", tag.String(),
	)
	return nil
}

// encodePayload re-encodes the raw temp file through the configured
// compressor into a second temp file. Returns the open file and its
// size.
func (s *Spool) encodePayload(raw *os.File, tag CompressionTag) (*os.File, int64, error) {
	if _, err := raw.Seek(1, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewinding payload: %w", err)
	}
	encoded, err := os.CreateTemp(s.dir, "enc-*")
	if err != nil {
		return nil, 0, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := encoded.Write([]byte{byte(tag)}); err != nil {
		discardTemp(encoded)
		return nil, 0, fmt.Errorf("writing payload tag: %w", err)
	}
	encoder, err := newEncoder(encoded, tag)
	if err != nil {
		discardTemp(encoded)
		return nil, 0, err
	}
	if _, err := io.Copy(encoder, raw); err != nil {
		discardTemp(encoded)
		return nil, 0, fmt.Errorf("compressing payload: %w", err)
	}
	if err := encoder.Close(); err != nil {
		discardTemp(encoded)
		return nil, 0, fmt.Errorf("flushing compressor: %w", err)
	}
	size, err := encoded.Seek(0, io.SeekEnd)
	if err != nil {
		discardTemp(encoded)
		return nil, 0, fmt.Errorf("sizing compressed payload: %w", err)
	}
	return encoded, size, nil
}

func discardTemp(file *os.File) {
	file.Close()
	os.Remove(file.Name())
}

func (s *Spool) upsert(ctx context.Context, w *PutWriter, storedSize int64, tag CompressionTag, now int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("spool: index write: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO entries
		(digest, payload_size, stored_size, compression, source_url, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			w.digest.String(),
			w.written,
			storedSize,
			int(tag),
			w.sourceURL,
			now,
			now,
		},
	})
	if err != nil {
		return fmt.Errorf("spool: index write: %w", err)
	}
	return nil
}

// --- read path ---

// Contains reports whether the index has an entry for the digest. It
// does not verify the payload file.
func (s *Spool) Contains(ctx context.Context, d digest.Digest) (bool, error) {
	entry, err := s.lookup(ctx, d)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// Open returns a reader over the payload for d, re-verified against
// the digest before the reader is handed out. A corrupt or missing
// payload is evicted and reported as ErrMiss, so the caller falls
// back to a fresh retrieval.
func (s *Spool) Open(ctx context.Context, d digest.Digest) (io.ReadCloser, Entry, error) {
	entry, err := s.lookup(ctx, d)
	if err != nil {
		return nil, Entry{}, err
	}
	if entry == nil {
		s.misses.Add(1)
		return nil, Entry{}, ErrMiss
	}

	path := s.entryPath(d)
	if err := s.verifyPayload(path, d); err != nil {
		s.logger.Warn("spool entry failed verification, evicting",
			"digest", d.String(), "error", err)
		if evictErr := s.remove(ctx, d); evictErr != nil {
			s.logger.Error("spool eviction failed", "digest", d.String(), "error", evictErr)
		}
		s.misses.Add(1)
		return nil, Entry{}, ErrMiss
	}

	reader, err := openPayload(path)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("spool: opening payload: %w", err)
	}

	now := s.clock.Now().Unix()
	if err := s.touch(ctx, d, now); err != nil {
		s.logger.Warn("spool access-time update failed", "digest", d.String(), "error", err)
	}
	entry.AccessedAt = time.Unix(now, 0)
	s.hits.Add(1)
	return reader, *entry, nil
}

// Evict removes an entry and its payload file. Unknown digests are a
// no-op.
func (s *Spool) Evict(ctx context.Context, d digest.Digest) error {
	return s.remove(ctx, d)
}

// verifyPayload decodes the stored file and compares its digest.
func (s *Spool) verifyPayload(path string, d digest.Digest) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening payload: %w", err)
	}
	defer file.Close()

	var tagByte [1]byte
	if _, err := io.ReadFull(file, tagByte[:]); err != nil {
		return fmt.Errorf("reading payload tag: %w", err)
	}
	decoded, release, err := newDecoder(file, CompressionTag(tagByte[0]))
	if err != nil {
		return err
	}
	defer release()

	actual, _, err := digest.Compute(d.Algorithm(), decoded)
	if err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if !actual.Equal(d) {
		return fmt.Errorf("stored bytes hash to %s", actual)
	}
	return nil
}

// payloadReader streams a decoded payload; Close releases the
// decompressor and the file.
type payloadReader struct {
	reader  io.Reader
	release func()
	file    *os.File
}

func (r *payloadReader) Read(p []byte) (int, error) { return r.reader.Read(p) }

func (r *payloadReader) Close() error {
	r.release()
	return r.file.Close()
}

func openPayload(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var tagByte [1]byte
	if _, err := io.ReadFull(file, tagByte[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading payload tag: %w", err)
	}
	decoded, release, err := newDecoder(file, CompressionTag(tagByte[0]))
	if err != nil {
		file.Close()
		return nil, err
	}
	return &payloadReader{reader: decoded, release: release, file: file}, nil
}

// --- index helpers ---

func (s *Spool) lookup(ctx context.Context, d digest.Digest) (*Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("spool: index read: %w", err)
	}
	defer s.pool.Put(conn)

	var entry *Entry
	err = sqlitex.Execute(conn, `SELECT payload_size, stored_size, compression,
		source_url, created_at, accessed_at FROM entries WHERE digest = ?`, &sqlitex.ExecOptions{
		Args: []any{d.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry = &Entry{
				Digest:      d,
				PayloadSize: stmt.ColumnInt64(0),
				StoredSize:  stmt.ColumnInt64(1),
				Compression: CompressionTag(stmt.ColumnInt64(2)),
				SourceURL:   stmt.ColumnText(3),
				CreatedAt:   time.Unix(stmt.ColumnInt64(4), 0),
				AccessedAt:  time.Unix(stmt.ColumnInt64(5), 0),
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("spool: index read: %w", err)
	}
	return entry, nil
}

func (s *Spool) touch(ctx context.Context, d digest.Digest, now int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn, "UPDATE entries SET accessed_at = ? WHERE digest = ?", &sqlitex.ExecOptions{
		Args: []any{now, d.String()},
	})
}

func (s *Spool) remove(ctx context.Context, d digest.Digest) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("spool: index delete: %w", err)
	}
	err = sqlitex.Execute(conn, "DELETE FROM entries WHERE digest = ?", &sqlitex.ExecOptions{
		Args: []any{d.String()},
	})
	changed := conn.Changes()
	s.pool.Put(conn)
	if err != nil {
		return fmt.Errorf("spool: index delete: %w", err)
	}

	if err := os.Remove(s.entryPath(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("spool: removing payload: %w", err)
	}
	if changed > 0 {
		s.evicted.Add(1)
	}
	return nil
}

// Stats summarizes the index and the lifetime counters.
func (s *Spool) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("spool: stats: %w", err)
	}
	defer s.pool.Put(conn)

	stats := Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Evicted: s.evicted.Load(),
	}
	err = sqlitex.Execute(conn, `SELECT COUNT(*), COALESCE(SUM(payload_size), 0),
		COALESCE(SUM(stored_size), 0) FROM entries`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Entries = stmt.ColumnInt64(0)
			stats.PayloadBytes = stmt.ColumnInt64(1)
			stats.StoredBytes = stmt.ColumnInt64(2)
			return nil
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("spool: stats: %w", err)
	}
	return stats, nil
}
