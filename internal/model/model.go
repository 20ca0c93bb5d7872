// Package model defines the four core StepFlow Monitor entities —
// Execution, Step, Artifact, LogEntry — and their status lattices.
// Types here are persistence- and transport-agnostic; internal/store
// maps them onto SQL rows and internal/httpapi serializes them as JSON.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque 128-bit identifier rendered as a string.
func NewID() string {
	return uuid.NewString()
}

// ExecutionStatus is the lattice an Execution moves through: pending ->
// running -> {completed, failed, cancelled}. The last three are terminal.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether s accepts no further mutation.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is a single run of one command (spec §3).
type Execution struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	User             string            `json:"user,omitempty"`
	Tags             []string          `json:"tags"`
	Metadata         map[string]any    `json:"metadata"`

	Status       ExecutionStatus `json:"status"`
	ExitCode     *int            `json:"exit_code"`
	ErrorMessage *string         `json:"error_message"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	TotalSteps        int `json:"total_steps"`
	CompletedSteps    int `json:"completed_steps"`
	CurrentStepIndex  int `json:"current_step_index"`

	// TimeoutSeconds is the optional wall-clock budget from the create
	// request (§4.E step 5); 0 means no timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	Steps     []*Step     `json:"steps,omitempty"`
	Artifacts []*Artifact `json:"artifacts,omitempty"`
}

// DurationSeconds mirrors the original model's computed duration: elapsed
// time since start, or the full run if already completed.
func (e *Execution) DurationSeconds() *float64 {
	if e.StartedAt == nil {
		return nil
	}
	end := time.Now().UTC()
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	d := end.Sub(*e.StartedAt).Seconds()
	return &d
}

// ProgressPercentage is completed_steps/total_steps*100, 0 when no steps
// have started yet.
func (e *Execution) ProgressPercentage() float64 {
	if e.TotalSteps == 0 {
		return 0
	}
	return float64(e.CompletedSteps) / float64(e.TotalSteps) * 100
}

// StepStatus is the lattice a Step moves through: pending -> running ->
// {completed, failed}; skipped is reached only when preallocated steps are
// abandoned after a stop_on_error failure (§4.D).
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether s accepts no further mutation.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Step is one logical phase within an Execution (spec §3).
type Step struct {
	ID               string         `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	Index            int            `json:"index"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Status           StepStatus     `json:"status"`
	ExitCode         *int           `json:"exit_code"`
	ErrorMessage     *string        `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	StopOnError      bool           `json:"stop_on_error"`
	EstimatedDuration *int          `json:"estimated_duration,omitempty"`
	Metadata         map[string]any `json:"metadata"`

	// RecentLogs holds the tail used for event-hub initial_state snapshots
	// (§4.F); it is not the authoritative log, which lives on disk.
	RecentLogs []*LogEntry `json:"recent_logs,omitempty"`
}

// ArtifactType classifies an Artifact by inferred content (spec §3).
type ArtifactType string

const (
	ArtifactDocument ArtifactType = "document"
	ArtifactImage    ArtifactType = "image"
	ArtifactData     ArtifactType = "data"
	ArtifactLog      ArtifactType = "log"
	ArtifactArchive  ArtifactType = "archive"
	ArtifactOther    ArtifactType = "other"
)

// Artifact is a file declared by the running script (spec §3).
type Artifact struct {
	ID            string       `json:"id"`
	ExecutionID   string       `json:"execution_id"`
	StepID        *string      `json:"step_id"`
	DeclaredPath  string       `json:"declared_path"`
	ResolvedPath  string       `json:"resolved_path"`
	FileName      string       `json:"file_name"`
	SizeBytes     int64        `json:"size_bytes"`
	MimeType      string       `json:"mime_type"`
	Type          ArtifactType `json:"artifact_type"`
	Description   string       `json:"description"`
	Tags          []string     `json:"tags"`
	CreatedAt     time.Time    `json:"created_at"`
	RetentionDays int          `json:"retention_days,omitempty"`
	Missing       bool         `json:"missing,omitempty"`
}

// LogStream identifies which child pipe a LogEntry came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogEntry is one line of child output (spec §3). Sequence is monotonic
// per execution and equals read order (invariant 5, §8).
type LogEntry struct {
	ExecutionID string    `json:"execution_id"`
	StepID      *string   `json:"step_id"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Stream      LogStream `json:"stream"`
	Content     string    `json:"content"`
	Truncated   bool      `json:"truncated,omitempty"`
	IsMarker    bool      `json:"is_marker,omitempty"`
}
