package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/model"
	"stepflow-monitor/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *hub.Hub) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := store.NewLogWriter(dir)
	h := hub.New(64, nil)
	e := New(st, logs, h, Config{
		MaxConcurrentExecutions: 10,
		MaxLineBytes:            65536,
		CancelGraceSeconds:      1,
		StepLogBufferSize:       64,
	}, nil)
	return e, st, h
}

func waitForTerminal(t *testing.T, st *store.Store, id string) *model.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := st.GetExecution(id)
		if err == nil && e.Status.Terminal() {
			return e
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal state in time", id)
	return nil
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Start(Request{Command: ""})
	require.Error(t, err)
}

func TestStartRejectsOverMaxConcurrency(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.MaxConcurrentExecutions = 0
	_, err := e.Start(Request{Command: "true"})
	require.Error(t, err)
}

func TestRunSimpleCommandCompletesSuccessfully(t *testing.T) {
	e, st, _ := newTestEngine(t)
	exec, err := e.Start(Request{Command: "echo hello"})
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
}

func TestRunCommandWithStepMarkersBuildsSteps(t *testing.T) {
	e, st, _ := newTestEngine(t)
	script := `echo "STEP_START: compile"
echo "building..."
echo "STEP_COMPLETE: compile"
echo "STEP_START: test"
echo "STEP_ERROR: boom"
`
	exec, err := e.Start(Request{Command: script, Shell: true})
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, model.ExecutionFailed, final.Status)

	steps, err := st.GetSteps(exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "compile", steps[0].Name)
	assert.Equal(t, model.StepCompleted, steps[0].Status)
	assert.Equal(t, "test", steps[1].Name)
	assert.Equal(t, model.StepFailed, steps[1].Status)
}

func TestRunNonZeroExitMarksExecutionFailed(t *testing.T) {
	e, st, _ := newTestEngine(t)
	exec, err := e.Start(Request{Command: "exit 3", Shell: true})
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, model.ExecutionFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
}

func TestCancelStopsRunningExecution(t *testing.T) {
	e, st, _ := newTestEngine(t)
	exec, err := e.Start(Request{Command: "sleep 30", Shell: true})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Cancel(exec.ID, "user_requested"))

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, model.ExecutionCancelled, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, "user_requested", *final.ErrorMessage)
}

func TestCancelUnknownExecutionReturnsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Cancel("does-not-exist", "x")
	require.Error(t, err)
}

func TestInvalidCommandFailsBeforeSpawn(t *testing.T) {
	e, st, _ := newTestEngine(t)
	exec, err := e.Start(Request{Command: "this-binary-does-not-exist-xyz"})
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, model.ExecutionFailed, final.Status)
}

func TestArtifactMarkerCreatesArtifactRecord(t *testing.T) {
	e, st, _ := newTestEngine(t)
	dir := t.TempDir()
	script := `echo hi > out.txt
echo "ARTIFACT: out.txt: test output"
`
	exec, err := e.Start(Request{Command: script, Shell: true, WorkingDirectory: dir})
	require.NoError(t, err)

	waitForTerminal(t, st, exec.ID)

	artifacts, err := st.GetArtifacts(exec.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "out.txt", artifacts[0].FileName)
	assert.False(t, artifacts[0].Missing)
}

func TestArtifactEscapingWorkingDirectoryIsRejected(t *testing.T) {
	e, st, _ := newTestEngine(t)
	dir := t.TempDir()
	script := `echo "ARTIFACT: ../../../../etc/passwd: nope"
`
	exec, err := e.Start(Request{Command: script, Shell: true, WorkingDirectory: dir})
	require.NoError(t, err)

	waitForTerminal(t, st, exec.ID)

	artifacts, err := st.GetArtifacts(exec.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestArtifactOverSizeLimitIsRejected(t *testing.T) {
	e, st, _ := newTestEngine(t)
	e.cfg.MaxArtifactBytes = 4
	dir := t.TempDir()
	script := `echo "way more than four bytes" > out.txt
echo "ARTIFACT: out.txt: too big"
`
	exec, err := e.Start(Request{Command: script, Shell: true, WorkingDirectory: dir})
	require.NoError(t, err)

	waitForTerminal(t, st, exec.ID)

	artifacts, err := st.GetArtifacts(exec.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}
