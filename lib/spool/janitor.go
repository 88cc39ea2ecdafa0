// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/retrieval/lib/digest"
)

// SweepStats reports one janitor pass.
type SweepStats struct {
	EvictedEntries int
	FreedBytes     int64
}

// Sweep evicts entries idle past MaxAge, then least-recently-used
// entries until stored bytes fit under MaxBytes. With both limits
// zero it is a no-op.
func (s *Spool) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	if s.config.MaxAge > 0 {
		cutoff := s.clock.Now().Add(-s.config.MaxAge).Unix()
		aged, err := s.selectAged(ctx, cutoff)
		if err != nil {
			return stats, err
		}
		for _, victim := range aged {
			if err := s.remove(ctx, victim.d); err != nil {
				return stats, err
			}
			stats.EvictedEntries++
			stats.FreedBytes += victim.storedSize
		}
	}

	if s.config.MaxBytes > 0 {
		if err := s.sweepOverCap(ctx, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type victim struct {
	d          digest.Digest
	storedSize int64
}

// selectAged collects digests idle since before the cutoff. Eviction
// happens after the query completes so the table is not mutated under
// an open statement.
func (s *Spool) selectAged(ctx context.Context, cutoff int64) ([]victim, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("spool: sweep: %w", err)
	}
	defer s.pool.Put(conn)

	var victims []victim
	err = sqlitex.Execute(conn, "SELECT digest, stored_size FROM entries WHERE accessed_at < ?", &sqlitex.ExecOptions{
		Args: []any{cutoff},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			d, err := digest.Parse(stmt.ColumnText(0))
			if err != nil {
				return fmt.Errorf("undecodable index digest: %w", err)
			}
			victims = append(victims, victim{d: d, storedSize: stmt.ColumnInt64(1)})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("spool: sweep: %w", err)
	}
	return victims, nil
}

// sweepOverCap evicts in strict least-recently-used order until the
// stored total fits.
func (s *Spool) sweepOverCap(ctx context.Context, stats *SweepStats) error {
	total, victims, err := s.selectByAccess(ctx)
	if err != nil {
		return err
	}
	for _, victim := range victims {
		if total <= s.config.MaxBytes {
			break
		}
		if err := s.remove(ctx, victim.d); err != nil {
			return err
		}
		total -= victim.storedSize
		stats.EvictedEntries++
		stats.FreedBytes += victim.storedSize
	}
	return nil
}

func (s *Spool) selectByAccess(ctx context.Context) (int64, []victim, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("spool: sweep: %w", err)
	}
	defer s.pool.Put(conn)

	var total int64
	var victims []victim
	err = sqlitex.Execute(conn, "SELECT digest, stored_size FROM entries ORDER BY accessed_at ASC", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			d, err := digest.Parse(stmt.ColumnText(0))
			if err != nil {
				return fmt.Errorf("undecodable index digest: %w", err)
			}
			size := stmt.ColumnInt64(1)
			total += size
			victims = append(victims, victim{d: d, storedSize: size})
			return nil
		},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("spool: sweep: %w", err)
	}
	return total, victims, nil
}

// RunJanitor sweeps on the configured interval until the context
// ends. Sweep failures are logged, not fatal; the next tick retries.
func (s *Spool) RunJanitor(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug("spool janitor running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("spool sweep failed", "error", err)
				continue
			}
			if stats.EvictedEntries > 0 {
				s.logger.Info("spool swept",
					"evicted", stats.EvictedEntries,
					"freed_bytes", stats.FreedBytes,
				)
			}
		}
	}
}
