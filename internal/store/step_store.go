package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/model"
)

// SaveStep upserts one step row, keyed by id.
func (s *Store) SaveStep(step *model.Step) error {
	return s.withWrite(func() error { return saveStepTx(s.db, step) })
}

// saveStepTx is the transaction-agnostic body shared with SaveBatch.
func saveStepTx(x execer, step *model.Step) error {
	meta, err := marshalJSON(step.Metadata)
	if err != nil {
		return apperrors.NewValidation("marshal step metadata: %v", err)
	}

	_, err = x.Exec(`
		INSERT INTO steps (
			id, execution_id, step_index, name, description, status,
			exit_code, error_message, created_at, started_at, completed_at,
			stop_on_error, estimated_duration, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			exit_code = excluded.exit_code,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			stop_on_error = excluded.stop_on_error,
			estimated_duration = excluded.estimated_duration,
			metadata = excluded.metadata
	`,
		step.ID, step.ExecutionID, step.Index, step.Name, step.Description, string(step.Status),
		nullInt(step.ExitCode), nullStr(step.ErrorMessage),
		step.CreatedAt.UTC().Format(timeLayout), nullTime(step.StartedAt), nullTime(step.CompletedAt),
		step.StopOnError, nullInt(step.EstimatedDuration), meta,
	)
	if err != nil {
		return apperrors.NewIOError("save step %s: %v", step.ID, err)
	}
	return nil
}

const stepColumns = `
	id, execution_id, step_index, name, description, status,
	exit_code, error_message, created_at, started_at, completed_at,
	stop_on_error, estimated_duration, metadata
`

func scanStep(row interface{ Scan(dest ...interface{}) error }) (*model.Step, error) {
	var st model.Step
	var description, errorMessage sql.NullString
	var exitCode, estimatedDuration sql.NullInt64
	var startedAt, completedAt sql.NullString
	var createdAt string
	var meta string

	err := row.Scan(
		&st.ID, &st.ExecutionID, &st.Index, &st.Name, &description, &st.Status,
		&exitCode, &errorMessage, &createdAt, &startedAt, &completedAt,
		&st.StopOnError, &estimatedDuration, &meta,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		st.Description = description.String
	}
	st.ExitCode = intPtr(exitCode)
	st.ErrorMessage = strPtr(errorMessage)
	if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
		st.CreatedAt = t
	}
	st.StartedAt = timePtr(startedAt)
	st.CompletedAt = timePtr(completedAt)
	st.EstimatedDuration = intPtr(estimatedDuration)
	st.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(meta), &st.Metadata)

	return &st, nil
}

// GetSteps returns every step of an execution, ordered by index (spec
// §4.A's natural ordering for step_index).
func (s *Store) GetSteps(executionID string) ([]*model.Step, error) {
	rows, err := s.db.Query("SELECT "+stepColumns+" FROM steps WHERE execution_id = ? ORDER BY step_index ASC", executionID)
	if err != nil {
		return nil, apperrors.NewIOError("list steps for %s: %v", executionID, err)
	}
	defer rows.Close()

	var out []*model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, apperrors.NewIOError("scan step: %v", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetStep fetches a single step by id.
func (s *Store) GetStep(id string) (*model.Step, error) {
	row := s.db.QueryRow("SELECT "+stepColumns+" FROM steps WHERE id = ?", id)
	st, err := scanStep(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("step %s", id)
		}
		return nil, apperrors.NewIOError("get step %s: %v", id, err)
	}
	return st, nil
}
