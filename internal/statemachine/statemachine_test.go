package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepflow-monitor/internal/model"
)

func newPending() *Machine {
	return New(&model.Execution{
		ID:               model.NewID(),
		Status:           model.ExecutionPending,
		CurrentStepIndex: -1,
	})
}

func TestStepStartTransitionsExecutionToRunning(t *testing.T) {
	m := newPending()
	out := m.StepStart("build", nil, nil, nil)

	require.NotNil(t, out.StepStarted)
	assert.Equal(t, model.ExecutionRunning, m.Execution().Status)
	assert.Equal(t, 0, out.StepStarted.Index)
	assert.True(t, out.StepStarted.StopOnError, "default stop_on_error is true")
}

func TestStepStartImplicitlyClosesPreviousRunningStep(t *testing.T) {
	m := newPending()
	m.StepStart("first", nil, nil, nil)
	out := m.StepStart("second", nil, nil, nil)

	require.NotNil(t, out.StepImplicitlyClosed)
	assert.Equal(t, "first", out.StepImplicitlyClosed.Name)
	assert.Equal(t, model.StepCompleted, out.StepImplicitlyClosed.Status)
	assert.Equal(t, 1, out.StepStarted.Index)
}

func TestStepCompleteMismatchedNameStillCompletes(t *testing.T) {
	m := newPending()
	m.StepStart("build", nil, nil, nil)
	out := m.StepComplete("totally-different-name")

	require.NotNil(t, out.StepCompleted)
	assert.Equal(t, model.StepCompleted, out.StepCompleted.Status)
	assert.Equal(t, "totally-different-name", out.StepCompleted.Metadata["step_complete_name_mismatch"])
}

func TestStepErrorWithStopOnErrorFailsExecution(t *testing.T) {
	m := newPending()
	m.StepStart("tests", nil, nil, nil)
	out := m.StepError("assertion failed")

	require.NotNil(t, out.StepFailed)
	assert.True(t, out.ExecutionFailed)
	assert.Equal(t, model.ExecutionFailed, m.Execution().Status)
	assert.Equal(t, "assertion failed", *m.Execution().ErrorMessage)
}

func TestStepErrorWithoutStopOnErrorContinuesExecution(t *testing.T) {
	m := newPending()
	no := false
	m.StepStart("warmup", &no, nil, nil)
	out := m.StepError("cache miss")

	assert.False(t, out.ExecutionFailed)
	assert.NotEqual(t, model.ExecutionFailed, m.Execution().Status)

	// subsequent STEP_START must still work
	out2 := m.StepStart("main", nil, nil, nil)
	require.NotNil(t, out2.StepStarted)
	assert.Equal(t, 1, out2.StepStarted.Index)
}

func TestCompletedStepsCounter(t *testing.T) {
	m := newPending()
	m.StepStart("a", nil, nil, nil)
	m.StepComplete("a")
	m.StepStart("b", nil, nil, nil)
	m.StepComplete("b")

	assert.Equal(t, 2, m.Execution().CompletedSteps)
	assert.Equal(t, 2, m.Execution().TotalSteps)
}

func TestCancelIsIdempotent(t *testing.T) {
	m := newPending()
	m.StepStart("loop", nil, nil, nil)

	first := m.Cancel("server_shutdown")
	second := m.Cancel("server_shutdown")

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, model.ExecutionCancelled, m.Execution().Status)
}

func TestFinalizeNoOpWhenAlreadyTerminal(t *testing.T) {
	m := newPending()
	m.Cancel("server_shutdown")
	m.Finalize(0, "should not apply")

	assert.Equal(t, model.ExecutionCancelled, m.Execution().Status)
}

func TestFinalizeNonZeroExitFails(t *testing.T) {
	m := newPending()
	m.StepStart("build", nil, nil, nil)
	m.Finalize(1, "generic failure")

	assert.Equal(t, model.ExecutionFailed, m.Execution().Status)
	assert.Equal(t, "generic failure", *m.Execution().ErrorMessage)
}

func TestStepStartIsDroppedAfterTerminalFailure(t *testing.T) {
	m := newPending()
	m.StepStart("tests", nil, nil, nil) // default stop_on_error=true
	m.StepError("assertion failed")
	require.True(t, m.Execution().Status.Terminal())

	out := m.StepStart("late-arrival", nil, nil, nil)

	assert.Nil(t, out.StepStarted)
	assert.Nil(t, out.StepImplicitlyClosed)
	assert.Len(t, m.Execution().Steps, 1, "no step appended onto a terminal execution")
	assert.Equal(t, 1, m.Execution().TotalSteps)
}

func TestStepStartIsDroppedAfterCancel(t *testing.T) {
	m := newPending()
	m.StepStart("build", nil, nil, nil)
	m.Cancel("server_shutdown")

	out := m.StepStart("late-arrival", nil, nil, nil)

	assert.Nil(t, out.StepStarted)
	assert.Len(t, m.Execution().Steps, 1)
}

func TestMetaOnRunningStepVsExecution(t *testing.T) {
	m := newPending()
	m.Meta("phase", "init") // no running step -> execution metadata
	assert.Equal(t, "init", m.Execution().Metadata["phase"])

	m.StepStart("build", nil, nil, nil)
	m.Meta("retries", "3")
	assert.Equal(t, "3", m.Execution().Steps[0].Metadata["retries"])
}
