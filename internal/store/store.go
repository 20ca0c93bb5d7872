package store

import (
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/sym"
)

// Store is the single persistence façade spec §4.B describes: a shared
// *sql.DB plus a write mutex that serializes every mutating statement
// (SQLite allows one writer at a time regardless of WAL mode; the mutex
// turns lock-contention errors into simple queuing). Reads do not take
// the mutex, but openConn caps the pool at one connection, so a read still
// waits for any statement that holds it.
type Store struct {
	db     *sql.DB
	writeMu sync.Mutex
	log    *zap.SugaredLogger
	path   string

	closed   bool
	closedMu sync.RWMutex
}

// Open opens (creating if needed) the SQLite database at path, applies
// pragmas, and runs any pending migrations. Call Close when done.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	db, err := openConn(path, log)
	if err != nil {
		return nil, apperrors.NewIOError("open store: %v", err)
	}
	if err := migrate(db, log); err != nil {
		db.Close()
		return nil, apperrors.NewIOError("migrate store: %v", err)
	}
	return &Store{db: db, log: log, path: path}, nil
}

// withWrite runs fn while holding the write mutex, translating closed-db
// errors into ErrClosed so callers see a single stable sentinel.
func (s *Store) withWrite(fn func() error) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := fn(); err != nil {
		if IsClosed(err) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// Close closes the underlying database. Safe to call once; subsequent
// calls are no-ops.
func (s *Store) Close() error {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.log != nil {
		s.log.Infow("closing store", sym.DB, true)
	}
	return s.db.Close()
}

// Optimize runs the maintenance pass spec §6 exposes via the optimize
// endpoint: a WAL checkpoint to fold the write-ahead log back into the
// main file, ANALYZE to refresh the query planner's statistics, and an
// integrity check as a cheap corruption canary.
func (s *Store) Optimize() error {
	return s.withWrite(func() error {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return apperrors.NewIOError("wal checkpoint: %v", err)
		}
		if _, err := s.db.Exec("ANALYZE"); err != nil {
			return apperrors.NewIOError("analyze: %v", err)
		}
		var result string
		if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return apperrors.NewIOError("integrity check: %v", err)
		}
		if result != "ok" {
			return apperrors.NewIOError("integrity check failed: %s", result)
		}
		return nil
	})
}

// Statistics is the aggregate the health/statistics endpoint reports.
type Statistics struct {
	TotalExecutions     int            `json:"total_executions"`
	ExecutionsByStatus  map[string]int `json:"executions_by_status"`
	TotalSteps          int            `json:"total_steps"`
	TotalArtifacts      int            `json:"total_artifacts"`
	AverageDurationSecs float64        `json:"average_duration_seconds"`
}

// GetStatistics aggregates counts across the store (spec §4.B).
func (s *Store) GetStatistics() (*Statistics, error) {
	stats := &Statistics{ExecutionsByStatus: map[string]int{}}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&stats.TotalExecutions); err != nil {
		return nil, apperrors.NewIOError("count executions: %v", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM steps").Scan(&stats.TotalSteps); err != nil {
		return nil, apperrors.NewIOError("count steps: %v", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&stats.TotalArtifacts); err != nil {
		return nil, apperrors.NewIOError("count artifacts: %v", err)
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, apperrors.NewIOError("group executions by status: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.NewIOError("scan status group: %v", err)
		}
		stats.ExecutionsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewIOError("iterate status groups: %v", err)
	}

	var avg sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG(CAST((julianday(completed_at) - julianday(started_at)) * 86400.0 AS REAL))
		FROM executions
		WHERE started_at IS NOT NULL AND completed_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, apperrors.NewIOError("average duration: %v", err)
	}
	if avg.Valid {
		stats.AverageDurationSecs = avg.Float64
	}

	return stats, nil
}
