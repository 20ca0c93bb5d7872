package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrdinaryLine(t *testing.T) {
	ev := Parse("just some output")
	assert.Equal(t, KindNone, ev.Kind)
}

func TestParseEmptyStepStartIsNotAMarker(t *testing.T) {
	ev := Parse("STEP_START:")
	assert.Equal(t, KindNone, ev.Kind, "empty name must not be a marker (invariant 10)")
}

func TestParseStepStartWithOptions(t *testing.T) {
	ev := Parse("STEP_START:foo[stop_on_error=false,urgency=high]")
	require.Equal(t, KindStepStart, ev.Kind)
	assert.Equal(t, "foo", ev.StepName)
	require.NotNil(t, ev.StopOnError)
	assert.False(t, *ev.StopOnError)
	assert.Equal(t, "high", ev.Options["urgency"])
}

func TestParseStepStartWithDuration(t *testing.T) {
	ev := Parse("STEP_START:Model Training [duration=300]")
	require.Equal(t, KindStepStart, ev.Kind)
	assert.Equal(t, "Model Training", ev.StepName)
	require.NotNil(t, ev.Duration)
	assert.Equal(t, 300, *ev.Duration)
}

func TestParseStepStartNoOptions(t *testing.T) {
	ev := Parse("STEP_START:build")
	require.Equal(t, KindStepStart, ev.Kind)
	assert.Equal(t, "build", ev.StepName)
	assert.Nil(t, ev.StopOnError)
}

func TestParseStepComplete(t *testing.T) {
	ev := Parse("STEP_COMPLETE:build")
	require.Equal(t, KindStepComplete, ev.Kind)
	assert.Equal(t, "build", ev.StepName)
}

func TestParseStepError(t *testing.T) {
	ev := Parse("STEP_ERROR:assertion failed")
	require.Equal(t, KindStepError, ev.Kind)
	assert.Equal(t, "assertion failed", ev.ErrorDescription)
}

func TestParseArtifactSplitsOnFirstColon(t *testing.T) {
	ev := Parse("ARTIFACT:logs/training.log:Training Logs: verbose")
	require.Equal(t, KindArtifact, ev.Kind)
	assert.Equal(t, "logs/training.log", ev.ArtifactPath)
	assert.Equal(t, "Training Logs: verbose", ev.ArtifactDescription)
}

func TestParseMeta(t *testing.T) {
	ev := Parse("META:TIMEOUT:600")
	require.Equal(t, KindMeta, ev.Kind)
	assert.Equal(t, "TIMEOUT", ev.MetaKey)
	assert.Equal(t, "600", ev.MetaValue)
}

func TestParseTrimsLeadingWhitespace(t *testing.T) {
	ev := Parse("   STEP_START:build")
	require.Equal(t, KindStepStart, ev.Kind)
	assert.Equal(t, "build", ev.StepName)
}
