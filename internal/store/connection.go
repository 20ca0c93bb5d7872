// Package store is the persistence layer (spec §4.B): an embedded SQLite
// database tuned for one writer + many concurrent readers, plus the
// on-disk log/artifact tree. It is the only component allowed to touch
// the database connection.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"stepflow-monitor/internal/sym"
)

// openConn opens path with the pragmas spec §4.B's "tuning decisions"
// call for: WAL journaling (readers never block behind the engine's
// writes), a synchronous level weaker than full fsync-per-commit (a few
// hundred ms of writes may be lost on crash; torn writes may not), and an
// in-process cache plus a memory-mapped region sized to keep a
// ≤50k-rows-per-table workload fully cached.
func openConn(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log.Debugw("opening database", "path", path, sym.DB, true)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -10000",   // ~10MB page cache
		"PRAGMA mmap_size = 268435456", // 256MB memory-mapped region
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	// A single shared connection: writes are serialized by Store's mutex,
	// so more than one open connection would just contend on SQLite's own
	// file lock without buying real concurrency.
	db.SetMaxOpenConns(1)

	if log != nil {
		log.Infow("database opened", "path", path, sym.DB, true, "wal_mode", true)
	}
	return db, nil
}
