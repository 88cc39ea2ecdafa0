// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/retrieval/lib/sqlitepool"
)

func openTestPool(t *testing.T, schema string) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Schema: schema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

func TestOpenAppliesPragmas(t *testing.T) {
	pool := openTestPool(t, "")

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}

	var synchronous int
	err = sqlitex.Execute(conn, "PRAGMA synchronous", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			synchronous = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	if synchronous != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", synchronous)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty Path")
	}
}

func TestSchemaApplied(t *testing.T) {
	pool := openTestPool(t, `
		CREATE TABLE IF NOT EXISTS entries (
			digest TEXT PRIMARY KEY,
			size   INTEGER NOT NULL
		);
	`)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO entries (digest, size) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"blake3:ab", 9},
	})
	if err != nil {
		t.Fatalf("insert into schema table: %v", err)
	}
}

func TestConcurrentTakePut(t *testing.T) {
	pool := openTestPool(t, `
		CREATE TABLE IF NOT EXISTS counters (
			id    INTEGER PRIMARY KEY,
			value INTEGER NOT NULL
		);
	`)

	const goroutines = 8
	const increments = 25

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				if err := insertRow(pool, id*increments+j); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM counters", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != goroutines*increments {
		t.Errorf("row count = %d, want %d", count, goroutines*increments)
	}
}

func insertRow(pool *sqlitepool.Pool, id int) error {
	conn, err := pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer pool.Put(conn)
	err = sqlitex.Execute(conn, "INSERT INTO counters (id, value) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{id, 1},
	})
	if err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	return nil
}
