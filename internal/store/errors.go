package store

import (
	"strings"

	"stepflow-monitor/internal/apperrors"
)

// ErrClosed is returned when operations are attempted against a Store
// that has already been closed, typically during shutdown while some
// goroutine is still finishing a write.
var ErrClosed = apperrors.New("store is closed")

// IsClosed reports whether err indicates the underlying connection was
// closed. The substring fallback is needed because database/sql and the
// sqlite3 driver sometimes surface their own unwrapped error values.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.Is(err, ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") || strings.Contains(msg, "sql: database is closed")
}
