package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/model"
)

// SaveArtifact inserts one artifact row. Artifacts are append-only —
// the marker parser discovers them once and never mutates them — so
// this is a plain INSERT rather than an upsert.
func (s *Store) SaveArtifact(a *model.Artifact) error {
	return s.withWrite(func() error { return saveArtifactTx(s.db, a) })
}

// saveArtifactTx is the transaction-agnostic body shared with SaveBatch.
func saveArtifactTx(x execer, a *model.Artifact) error {
	tags, err := marshalJSON(a.Tags)
	if err != nil {
		return apperrors.NewValidation("marshal artifact tags: %v", err)
	}

	_, err = x.Exec(`
		INSERT INTO artifacts (
			id, execution_id, step_id, declared_path, resolved_path, file_name,
			size_bytes, mime_type, artifact_type, description, tags, created_at, retention_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ExecutionID, nullStr(a.StepID), a.DeclaredPath, a.ResolvedPath, a.FileName,
		a.SizeBytes, a.MimeType, string(a.Type), a.Description, tags,
		a.CreatedAt.UTC().Format(timeLayout), a.RetentionDays,
	)
	if err != nil {
		return apperrors.NewIOError("save artifact %s: %v", a.ID, err)
	}
	return nil
}

const artifactColumns = `
	id, execution_id, step_id, declared_path, resolved_path, file_name,
	size_bytes, mime_type, artifact_type, description, tags, created_at, retention_days
`

func scanArtifact(row interface{ Scan(dest ...interface{}) error }) (*model.Artifact, error) {
	var a model.Artifact
	var stepID sql.NullString
	var createdAt string
	var tags string

	err := row.Scan(
		&a.ID, &a.ExecutionID, &stepID, &a.DeclaredPath, &a.ResolvedPath, &a.FileName,
		&a.SizeBytes, &a.MimeType, &a.Type, &a.Description, &tags, &createdAt, &a.RetentionDays,
	)
	if err != nil {
		return nil, err
	}

	a.StepID = strPtr(stepID)
	if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
		a.CreatedAt = t
	}
	a.Tags = []string{}
	_ = json.Unmarshal([]byte(tags), &a.Tags)

	return &a, nil
}

// GetArtifacts returns every artifact of an execution, oldest first.
func (s *Store) GetArtifacts(executionID string) ([]*model.Artifact, error) {
	rows, err := s.db.Query("SELECT "+artifactColumns+" FROM artifacts WHERE execution_id = ? ORDER BY created_at ASC", executionID)
	if err != nil {
		return nil, apperrors.NewIOError("list artifacts for %s: %v", executionID, err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, apperrors.NewIOError("scan artifact: %v", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArtifact fetches a single artifact by id.
func (s *Store) GetArtifact(id string) (*model.Artifact, error) {
	row := s.db.QueryRow("SELECT "+artifactColumns+" FROM artifacts WHERE id = ?", id)
	a, err := scanArtifact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("artifact %s", id)
		}
		return nil, apperrors.NewIOError("get artifact %s: %v", id, err)
	}
	return a, nil
}
