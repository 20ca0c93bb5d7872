// Package engine runs one Execution's child process end to end (spec
// §4.E): spawn, stream and parse its output, drive the statemachine,
// persist and publish as it goes, and finalize once the child exits or
// is terminated.
package engine

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/marker"
	"stepflow-monitor/internal/model"
	"stepflow-monitor/internal/statemachine"
	"stepflow-monitor/internal/store"
	"stepflow-monitor/internal/sym"
)

// Config is the subset of internal/config.Config the engine needs,
// passed in explicitly rather than importing the whole process config so
// tests can construct small values directly.
type Config struct {
	MaxConcurrentExecutions int
	MaxLineBytes            int
	DefaultTimeoutSeconds   int
	CancelGraceSeconds      int
	StepLogBufferSize       int
	MaxArtifactBytes        int64
}

// Engine owns every in-flight execution's goroutine and child process.
type Engine struct {
	store *store.Store
	logs  *store.LogWriter
	hub   *hub.Hub
	cfg   Config
	log   *zap.SugaredLogger

	mu     sync.Mutex
	active map[string]*run
}

type run struct {
	cancel  context.CancelFunc
	machine *statemachine.Machine
	reason  atomic.Value
}

// New builds an Engine. st and logs persist state; h fans out live
// updates to WebSocket subscribers.
func New(st *store.Store, logs *store.LogWriter, h *hub.Hub, cfg Config, log *zap.SugaredLogger) *Engine {
	if cfg.StepLogBufferSize <= 0 {
		cfg.StepLogBufferSize = 1024
	}
	if cfg.CancelGraceSeconds <= 0 {
		cfg.CancelGraceSeconds = 5
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = 100 * 1024 * 1024
	}
	return &Engine{store: st, logs: logs, hub: h, cfg: cfg, log: log, active: map[string]*run{}}
}

// ActiveCount reports how many executions are currently running, checked
// against cfg.MaxConcurrentExecutions before admitting a new one (§5).
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Start validates and admits a new execution request, persists its
// initial pending row, and spawns the goroutine that runs it. It returns
// as soon as the row exists — callers do not block on the child process.
func (e *Engine) Start(req Request) (*model.Execution, error) {
	if req.Command == "" {
		return nil, apperrors.NewValidation("command must not be empty")
	}

	e.mu.Lock()
	if len(e.active) >= e.cfg.MaxConcurrentExecutions {
		e.mu.Unlock()
		return nil, apperrors.NewOverloaded("at most %d concurrent executions allowed", e.cfg.MaxConcurrentExecutions)
	}
	e.mu.Unlock()

	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeoutSeconds
	}

	now := time.Now().UTC()
	exec := &model.Execution{
		ID:               model.NewID(),
		Name:             req.Name,
		Command:          req.Command,
		WorkingDirectory: req.WorkingDirectory,
		Environment:      req.Environment,
		User:             req.User,
		Tags:             req.Tags,
		Metadata:         req.Metadata,
		Status:           model.ExecutionPending,
		CreatedAt:        now,
		CurrentStepIndex: -1,
		TimeoutSeconds:   timeout,
	}
	if exec.Environment == nil {
		exec.Environment = map[string]string{}
	}
	if exec.Tags == nil {
		exec.Tags = []string{}
	}
	if exec.Metadata == nil {
		exec.Metadata = map[string]any{}
	}

	if err := e.store.SaveExecution(exec); err != nil {
		return nil, err
	}

	machine := statemachine.New(exec)
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, machine: machine}

	e.mu.Lock()
	e.active[exec.ID] = r
	e.mu.Unlock()

	go e.runExecution(ctx, r, req)

	return exec, nil
}

// Cancel requests that a running execution stop, recording reason against
// its final status and error message (spec §4.E/§4.H).
func (e *Engine) Cancel(executionID, reason string) error {
	e.mu.Lock()
	r, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return apperrors.NewNotFound("execution %s is not running", executionID)
	}
	if reason == "" {
		reason = "cancelled"
	}
	r.reason.Store(reason)
	r.cancel()
	return nil
}

// CancelAll cancels every active execution with the given reason, used by
// the orchestrator at shutdown (spec §4.H: reason "server_shutdown").
func (e *Engine) CancelAll(reason string) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.Cancel(id, reason)
	}
}

func (e *Engine) runExecution(ctx context.Context, r *run, req Request) {
	machine := r.machine
	execID := machine.Execution().ID

	defer func() {
		e.mu.Lock()
		delete(e.active, execID)
		e.mu.Unlock()
	}()

	cmd, err := buildCommand(req)
	if err != nil {
		e.failBeforeSpawn(machine, execID, err)
		return
	}
	cmd.Dir = req.WorkingDirectory
	if len(req.Environment) > 0 {
		env := os.Environ()
		for k, v := range req.Environment {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	// The parent keeps only the read ends, which cmd.Wait leaves open, so the
	// readers see every byte up to EOF even when the child exits first.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		e.failBeforeSpawn(machine, execID, apperrors.NewChildProcess("stdout pipe: %v", err))
		return
	}
	defer stdout.Close()
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		e.failBeforeSpawn(machine, execID, apperrors.NewChildProcess("stderr pipe: %v", err))
		return
	}
	defer stderr.Close()
	cmd.Stdout, cmd.Stderr = stdoutW, stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		e.failBeforeSpawn(machine, execID, apperrors.NewChildProcess("spawn: %v", err))
		return
	}

	e.markRunning(machine, execID)

	lines := make(chan rawLine, e.cfg.StepLogBufferSize)
	var readers sync.WaitGroup
	readers.Add(2)
	maxLine := e.cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	go func() { defer readers.Done(); streamLines(stdout, model.StreamStdout, maxLine, lines) }()
	go func() { defer readers.Done(); streamLines(stderr, model.StreamStderr, maxLine, lines) }()
	go func() { readers.Wait(); close(lines) }()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if req.TimeoutSeconds > 0 || e.cfg.DefaultTimeoutSeconds > 0 {
		budget := req.TimeoutSeconds
		if budget == 0 {
			budget = e.cfg.DefaultTimeoutSeconds
		}
		if budget > 0 {
			timer := time.NewTimer(time.Duration(budget) * time.Second)
			defer timer.Stop()
			timeoutC = timer.C
		}
	}

	var seq int64
	grace := time.Duration(e.cfg.CancelGraceSeconds) * time.Second

	for {
		select {
		case rl, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if stop := e.handleLine(machine, execID, rl, &seq); stop {
				go func() { cmd.Process.Signal(os.Interrupt) }()
			}

		case werr := <-waitCh:
			e.drain(lines, machine, execID, &seq)
			e.finalize(machine, execID, werr)
			return

		case <-timeoutC:
			werr := awaitExit(cmd, waitCh, grace)
			stdout.Close()
			stderr.Close()
			e.drain(lines, machine, execID, &seq)
			machine.CloseRunningStep("execution timed out")
			e.finalize(machine, execID, werr)
			return

		case <-ctx.Done():
			reason, _ := r.reason.Load().(string)
			if reason == "" {
				reason = "cancelled"
			}
			awaitExit(cmd, waitCh, grace)
			stdout.Close()
			stderr.Close()
			e.drain(lines, machine, execID, &seq)
			machine.CloseRunningStep(reason)
			machine.Cancel(reason)
			e.persistAndPublishFinal(machine, execID, "execution_completed")
			return
		}
	}
}

// drain empties any lines still buffered after the child has already
// exited, so output produced right before exit is never lost.
func (e *Engine) drain(lines <-chan rawLine, machine *statemachine.Machine, execID string, seq *int64) {
	if lines == nil {
		return
	}
	for rl := range lines {
		e.handleLine(machine, execID, rl, seq)
	}
}

func (e *Engine) failBeforeSpawn(machine *statemachine.Machine, execID string, err error) {
	machine.Finalize(-1, err.Error())
	e.persistAndPublishFinal(machine, execID, "execution_completed")
	if e.log != nil {
		e.log.Errorw("execution failed before spawn", sym.Engine, true, "execution_id", execID, "error", err)
	}
}

func (e *Engine) markRunning(machine *statemachine.Machine, execID string) {
	exec := machine.Execution()
	now := time.Now().UTC()
	exec.Status = model.ExecutionRunning
	exec.StartedAt = &now
	if err := e.store.SaveExecution(exec); err != nil && e.log != nil {
		e.log.Warnw("persist running status failed", sym.Engine, true, "execution_id", execID, "error", err)
	}
	e.hub.Publish(hub.GlobalTopic, hub.Event{Type: "execution_started", ExecutionID: execID, Data: exec, Timestamp: now})
	e.hub.Publish(hub.ExecutionTopic(execID), hub.Event{Type: "execution_started", ExecutionID: execID, Data: exec, Timestamp: now})
}

func (e *Engine) finalize(machine *statemachine.Machine, execID string, werr error) {
	exitCode := 0
	if werr != nil {
		exitCode = -1
		if exitErr, ok := werr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	machine.Finalize(exitCode, fallbackErrorFor(werr))
	e.persistAndPublishFinal(machine, execID, "execution_completed")
}

func fallbackErrorFor(werr error) string {
	if werr == nil {
		return ""
	}
	return werr.Error()
}

func (e *Engine) persistAndPublishFinal(machine *statemachine.Machine, execID, eventType string) {
	exec := machine.Snapshot()
	if err := e.store.SaveExecution(exec); err != nil && e.log != nil {
		e.log.Errorw("persist final execution failed", sym.Engine, true, "execution_id", execID, "error", err)
	}
	for _, st := range exec.Steps {
		if err := e.store.SaveStep(st); err != nil && e.log != nil {
			e.log.Errorw("persist final step failed", sym.Engine, true, "execution_id", execID, "step_id", st.ID, "error", err)
		}
		e.logs.CloseStep(execID, st.ID)
	}
	e.hub.Publish(hub.GlobalTopic, hub.Event{Type: eventType, ExecutionID: execID, Data: exec, Timestamp: time.Now().UTC()})
	e.hub.Publish(hub.ExecutionTopic(execID), hub.Event{Type: eventType, ExecutionID: execID, Data: exec, Timestamp: time.Now().UTC()})
}

// handleLine feeds one raw output line through the marker parser and the
// statemachine, persisting and publishing whatever resulted. It returns
// true when the execution's stop_on_error policy just fired and the
// caller should ask the child to terminate.
func (e *Engine) handleLine(machine *statemachine.Machine, execID string, rl rawLine, seq *int64) bool {
	ev := marker.Parse(rl.content)
	*seq++
	now := time.Now().UTC()

	var stepID *string
	var stepIndex int
	if running := machine.CurrentStep(); running != nil {
		id := running.ID
		stepID = &id
		stepIndex = running.Index
	}

	entry := &model.LogEntry{
		ExecutionID: execID,
		StepID:      stepID,
		Sequence:    *seq,
		Timestamp:   now,
		Stream:      rl.stream,
		Content:     rl.content,
		Truncated:   rl.truncated,
		IsMarker:    ev.Kind != marker.KindNone,
	}
	if stepID != nil {
		if err := e.logs.Append(entry, stepIndex, *stepID); err != nil && e.log != nil {
			e.log.Warnw("log append failed", sym.Engine, true, "execution_id", execID, "error", err)
		}
	}
	e.hub.Publish(hub.ExecutionTopic(execID), hub.Event{Type: "log_entry", ExecutionID: execID, Data: entry, Timestamp: now})

	switch ev.Kind {
	case marker.KindStepStart:
		out := machine.StepStart(ev.StepName, ev.StopOnError, ev.Duration, ev.Options)
		e.afterStepOutcome(machine, execID, out)
	case marker.KindStepComplete:
		out := machine.StepComplete(ev.StepName)
		e.afterStepOutcome(machine, execID, out)
	case marker.KindStepError:
		out := machine.StepError(ev.ErrorDescription)
		e.afterStepOutcome(machine, execID, out)
		return out.ExecutionFailed
	case marker.KindArtifact:
		exec := machine.Execution()
		a, rejectReason := resolveArtifact(exec.WorkingDirectory, ev.ArtifactPath, ev.ArtifactDescription, e.cfg.MaxArtifactBytes)
		if rejectReason != "" {
			if e.log != nil {
				e.log.Warnw("artifact rejected", sym.Engine, true, "execution_id", execID, "path", ev.ArtifactPath, "reason", rejectReason)
			}
			break
		}
		a.ExecutionID = execID
		a.CreatedAt = now
		machine.AddArtifact(a)
		if err := e.store.SaveArtifact(a); err != nil && e.log != nil {
			e.log.Warnw("persist artifact failed", sym.Engine, true, "execution_id", execID, "error", err)
		}
		e.hub.Publish(hub.ExecutionTopic(execID), hub.Event{Type: "artifact_created", ExecutionID: execID, Data: a, Timestamp: now})
	case marker.KindMeta:
		machine.Meta(ev.MetaKey, ev.MetaValue)
	}
	return false
}

func (e *Engine) afterStepOutcome(machine *statemachine.Machine, execID string, out statemachine.Outcome) {
	if out.StepImplicitlyClosed != nil {
		e.persistStep(execID, out.StepImplicitlyClosed)
	}
	if out.StepStarted != nil {
		e.persistStep(execID, out.StepStarted)
	}
	if out.StepCompleted != nil {
		e.persistStep(execID, out.StepCompleted)
	}
	if out.StepFailed != nil {
		e.persistStep(execID, out.StepFailed)
	}
	if err := e.store.SaveExecution(machine.Execution()); err != nil && e.log != nil {
		e.log.Warnw("persist execution progress failed", sym.Engine, true, "execution_id", execID, "error", err)
	}
}

func (e *Engine) persistStep(execID string, step *model.Step) {
	if err := e.store.SaveStep(step); err != nil && e.log != nil {
		e.log.Warnw("persist step failed", sym.Engine, true, "execution_id", execID, "step_id", step.ID, "error", err)
	}
	if step.Status.Terminal() {
		e.logs.CloseStep(execID, step.ID)
	}
	e.hub.Publish(hub.ExecutionTopic(execID), hub.Event{Type: "step_update", ExecutionID: execID, Data: step, Timestamp: time.Now().UTC()})
}
