// Package statemachine applies marker.Events to an in-memory Execution,
// enforcing the transition table and invariants of spec §4.D. It holds no
// I/O of its own: the execution engine calls it synchronously from the
// single goroutine that owns an Execution, then persists/publishes
// whatever it returns.
package statemachine

import (
	"sync"
	"time"

	"stepflow-monitor/internal/model"
)

// Outcome summarizes what a transition did, so the caller (the execution
// engine) knows which events to publish and which rows to persist.
type Outcome struct {
	StepStarted     *model.Step
	StepImplicitlyClosed *model.Step // closed by an overlapping STEP_START
	StepCompleted   *model.Step
	StepFailed      *model.Step
	ExecutionFailed bool // stop_on_error fired; engine must terminate the child
	MetaApplied     bool
}

// Machine owns the single running Execution (and its Steps) for the
// lifetime of one run. All methods are safe for concurrent readers (the
// hub snapshotting state for a new subscriber) while the engine goroutine
// is the only writer.
type Machine struct {
	mu   sync.RWMutex
	exec *model.Execution
}

// New wraps an already-persisted, pending Execution.
func New(exec *model.Execution) *Machine {
	return &Machine{exec: exec}
}

// Snapshot returns a deep-enough copy for the hub's initial_state message:
// the Execution plus its Steps, safe to serialize without racing the
// engine goroutine.
func (m *Machine) Snapshot() *model.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.exec
	cp.Steps = append([]*model.Step(nil), m.exec.Steps...)
	cp.Artifacts = append([]*model.Artifact(nil), m.exec.Artifacts...)
	return &cp
}

// Execution returns the live Execution pointer. Callers must hold no
// assumptions about concurrent mutation; use Snapshot for anything handed
// to another goroutine.
func (m *Machine) Execution() *model.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exec
}

// CurrentStep returns the step currently running, or nil if none is
// (used by the engine to decide which step's log file a line belongs to).
func (m *Machine) CurrentStep() *model.Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningStep()
}

func (m *Machine) runningStep() *model.Step {
	if m.exec.CurrentStepIndex < 0 || m.exec.CurrentStepIndex >= len(m.exec.Steps) {
		return nil
	}
	s := m.exec.Steps[m.exec.CurrentStepIndex]
	if s.Status == model.StepRunning {
		return s
	}
	return nil
}

// StepStart applies a step_start(name, opts) event (§4.D row 1 and 2).
// If another step is currently running, it is implicitly completed first
// so scripts that omit STEP_COMPLETE still produce a consistent history.
func (m *Machine) StepStart(name string, stopOnError *bool, estimatedDuration *int, metadata map[string]any) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Outcome

	// A terminal execution accepts no further steps (§4.D: "any subsequent
	// STEP_START markers ... are ignored"). The child can still emit lines
	// after a stop_on_error STEP_ERROR or a cancel/timeout before it's
	// actually killed, and drain replays whatever was buffered.
	if m.exec.Status.Terminal() {
		return out
	}

	now := time.Now().UTC()

	if running := m.runningStep(); running != nil {
		running.Status = model.StepCompleted
		running.CompletedAt = &now
		m.exec.CompletedSteps++
		out.StepImplicitlyClosed = running
	}

	if m.exec.Status == model.ExecutionPending {
		m.exec.Status = model.ExecutionRunning
		m.exec.StartedAt = &now
	}

	stop := true
	if stopOnError != nil {
		stop = *stopOnError
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	step := &model.Step{
		ID:                model.NewID(),
		ExecutionID:       m.exec.ID,
		Index:             len(m.exec.Steps),
		Name:              name,
		Status:            model.StepRunning,
		CreatedAt:         now,
		StartedAt:         &now,
		StopOnError:       stop,
		EstimatedDuration: estimatedDuration,
		Metadata:          metadata,
	}
	m.exec.Steps = append(m.exec.Steps, step)
	m.exec.TotalSteps = len(m.exec.Steps)
	m.exec.CurrentStepIndex = step.Index

	out.StepStarted = step
	return out
}

// StepComplete applies a step_complete(n) event (§4.D row 3). An
// unmatched name still completes the running step; the mismatch is
// recorded in its metadata rather than rejected (§4.D closing note).
func (m *Machine) StepComplete(name string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Outcome
	running := m.runningStep()
	if running == nil {
		return out
	}

	now := time.Now().UTC()
	if name != "" && name != running.Name {
		if running.Metadata == nil {
			running.Metadata = map[string]any{}
		}
		running.Metadata["step_complete_name_mismatch"] = name
	}

	running.Status = model.StepCompleted
	running.CompletedAt = &now
	m.exec.CompletedSteps++
	m.exec.CurrentStepIndex = -1

	out.StepCompleted = running
	return out
}

// StepError applies a step_error(desc) event (§4.D row 4). When the
// failing step's StopOnError is true, the Execution itself is marked
// failed and the caller must terminate the child process.
func (m *Machine) StepError(desc string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Outcome
	running := m.runningStep()
	if running == nil {
		return out
	}

	now := time.Now().UTC()
	msg := desc
	running.Status = model.StepFailed
	running.ErrorMessage = &msg
	running.CompletedAt = &now
	m.exec.CurrentStepIndex = -1

	out.StepFailed = running

	if running.StopOnError {
		m.exec.Status = model.ExecutionFailed
		errMsg := desc
		m.exec.ErrorMessage = &errMsg
		out.ExecutionFailed = true
	}
	return out
}

// Meta applies a meta(k, v) event (§4.D row 6): onto the running step's
// metadata if one is running, else the execution's.
func (m *Machine) Meta(key, value string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if running := m.runningStep(); running != nil {
		if running.Metadata == nil {
			running.Metadata = map[string]any{}
		}
		running.Metadata[key] = value
	} else {
		if m.exec.Metadata == nil {
			m.exec.Metadata = map[string]any{}
		}
		m.exec.Metadata[key] = value
	}
	return Outcome{MetaApplied: true}
}

// CloseRunningStep force-closes any running step as failed with the given
// reason, used by cancel/timeout (§4.E). Finalize does not call it: a step
// still running when the child exits on its own keeps status running.
func (m *Machine) CloseRunningStep(reason string) *model.Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := m.runningStep()
	if running == nil {
		return nil
	}
	now := time.Now().UTC()
	running.Status = model.StepFailed
	running.ErrorMessage = &reason
	running.CompletedAt = &now
	m.exec.CurrentStepIndex = -1
	return running
}

// Finalize transitions the Execution to a terminal status once the child
// has exited (§4.E step 6). No-op if already terminal (a stop_on_error
// STEP_ERROR may have gotten there first); the exit code and completion
// time are then not recorded.
func (m *Machine) Finalize(exitCode int, fallbackError string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	m.exec.ExitCode = &exitCode
	m.exec.CompletedAt = &now
	if exitCode == 0 {
		m.exec.Status = model.ExecutionCompleted
	} else {
		m.exec.Status = model.ExecutionFailed
		if m.exec.ErrorMessage == nil {
			m.exec.ErrorMessage = &fallbackError
		}
	}
}

// Cancel transitions the Execution to cancelled (idempotent: a second call
// is a no-op because the first already made it terminal).
func (m *Machine) Cancel(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec.Status.Terminal() {
		return false
	}
	now := time.Now().UTC()
	m.exec.Status = model.ExecutionCancelled
	m.exec.CompletedAt = &now
	msg := reason
	m.exec.ErrorMessage = &msg
	return true
}

// AddArtifact registers an already-resolved Artifact against the
// currently running step, if any (§4.D row 5 — resolution/stat happens in
// the engine; this just appends the record).
func (m *Machine) AddArtifact(a *model.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if running := m.runningStep(); running != nil {
		id := running.ID
		a.StepID = &id
	}
	m.exec.Artifacts = append(m.exec.Artifacts, a)
}
