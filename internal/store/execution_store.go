package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/model"
)

const timeLayout = time.RFC3339Nano

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the save
// helpers run either standalone (write-mutex only) or inside SaveBatch's
// transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// SaveExecution inserts a new execution row or, if id already exists,
// replaces it in place (spec §4.B's save_execution is an upsert — the
// engine calls it once to create the pending row and again on every
// subsequent status change).
func (s *Store) SaveExecution(e *model.Execution) error {
	return s.withWrite(func() error { return saveExecutionTx(s.db, e) })
}

func saveExecutionTx(x execer, e *model.Execution) error {
	{
		env, err := marshalJSON(e.Environment)
		if err != nil {
			return apperrors.NewValidation("marshal environment: %v", err)
		}
		tags, err := marshalJSON(e.Tags)
		if err != nil {
			return apperrors.NewValidation("marshal tags: %v", err)
		}
		meta, err := marshalJSON(e.Metadata)
		if err != nil {
			return apperrors.NewValidation("marshal metadata: %v", err)
		}

		_, err = x.Exec(`
			INSERT INTO executions (
				id, name, command, working_directory, environment, user, tags, metadata,
				status, exit_code, error_message, created_at, started_at, completed_at,
				total_steps, completed_steps, current_step_index, timeout_seconds
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				command = excluded.command,
				working_directory = excluded.working_directory,
				environment = excluded.environment,
				user = excluded.user,
				tags = excluded.tags,
				metadata = excluded.metadata,
				status = excluded.status,
				exit_code = excluded.exit_code,
				error_message = excluded.error_message,
				started_at = excluded.started_at,
				completed_at = excluded.completed_at,
				total_steps = excluded.total_steps,
				completed_steps = excluded.completed_steps,
				current_step_index = excluded.current_step_index,
				timeout_seconds = excluded.timeout_seconds
		`,
			e.ID, e.Name, e.Command, e.WorkingDirectory, env, nullStr(strPtrFromString(e.User)), tags, meta,
			string(e.Status), nullInt(e.ExitCode), nullStr(e.ErrorMessage),
			e.CreatedAt.UTC().Format(timeLayout), nullTime(e.StartedAt), nullTime(e.CompletedAt),
			e.TotalSteps, e.CompletedSteps, e.CurrentStepIndex, e.TimeoutSeconds,
		)
		if err != nil {
			return apperrors.NewIOError("save execution %s: %v", e.ID, err)
		}
		return nil
	}
}

func strPtrFromString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanExecution(row interface {
	Scan(dest ...interface{}) error
}) (*model.Execution, error) {
	var e model.Execution
	var user, errorMessage sql.NullString
	var exitCode sql.NullInt64
	var startedAt, completedAt sql.NullString
	var createdAt string
	var env, tags, meta string

	err := row.Scan(
		&e.ID, &e.Name, &e.Command, &e.WorkingDirectory, &env, &user, &tags, &meta,
		&e.Status, &exitCode, &errorMessage, &createdAt, &startedAt, &completedAt,
		&e.TotalSteps, &e.CompletedSteps, &e.CurrentStepIndex, &e.TimeoutSeconds,
	)
	if err != nil {
		return nil, err
	}

	e.Environment = map[string]string{}
	_ = json.Unmarshal([]byte(env), &e.Environment)
	e.Tags = []string{}
	_ = json.Unmarshal([]byte(tags), &e.Tags)
	e.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(meta), &e.Metadata)

	if user.Valid {
		e.User = user.String
	}
	e.ExitCode = intPtr(exitCode)
	e.ErrorMessage = strPtr(errorMessage)
	if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
		e.CreatedAt = t
	}
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)

	return &e, nil
}

const executionColumns = `
	id, name, command, working_directory, environment, user, tags, metadata,
	status, exit_code, error_message, created_at, started_at, completed_at,
	total_steps, completed_steps, current_step_index, timeout_seconds
`

// GetExecution fetches one execution by id, without its steps/artifacts
// (callers that need the full tree call GetSteps/GetArtifacts too).
func (s *Store) GetExecution(id string) (*model.Execution, error) {
	row := s.db.QueryRow("SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	e, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("execution %s", id)
		}
		return nil, apperrors.NewIOError("get execution %s: %v", id, err)
	}
	return e, nil
}

// ListFilter narrows ListExecutions (spec §6's GET /api/executions query
// parameters).
type ListFilter struct {
	Status string
	User   string
	Limit  int
	Offset int
}

// ListExecutions returns executions newest-first, optionally filtered by
// status and/or user, alongside the total matching count for pagination.
func (s *Store) ListExecutions(f ListFilter) ([]*model.Execution, int, error) {
	var clauses []string
	args := []interface{}{}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.User != "" {
		clauses = append(clauses, "user = ?")
		args = append(args, f.User)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			where += " AND " + c
		}
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM executions"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewIOError("count executions: %v", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + executionColumns + " FROM executions" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, apperrors.NewIOError("list executions: %v", err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, apperrors.NewIOError("scan execution: %v", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewIOError("iterate executions: %v", err)
	}
	return out, total, nil
}

// ListNonTerminal returns every execution still in pending or running
// state. The orchestrator calls this once at startup (spec §4.H) to find
// executions orphaned by a previous process's death.
func (s *Store) ListNonTerminal() ([]*model.Execution, error) {
	rows, err := s.db.Query("SELECT "+executionColumns+" FROM executions WHERE status IN (?, ?)",
		string(model.ExecutionPending), string(model.ExecutionRunning))
	if err != nil {
		return nil, apperrors.NewIOError("list non-terminal executions: %v", err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, apperrors.NewIOError("scan execution: %v", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteExecution removes an execution and, via ON DELETE CASCADE, every
// step and artifact row that references it. It does not touch the
// on-disk log directory; callers that also want those bytes gone call
// LogWriter.RemoveExecutionLogs separately (the HTTP delete handler does so
// after this returns).
func (s *Store) DeleteExecution(id string) error {
	return s.withWrite(func() error {
		res, err := s.db.Exec("DELETE FROM executions WHERE id = ?", id)
		if err != nil {
			return apperrors.NewIOError("delete execution %s: %v", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.NewIOError("rows affected: %v", err)
		}
		if n == 0 {
			return apperrors.NewNotFound("execution %s", id)
		}
		return nil
	})
}
