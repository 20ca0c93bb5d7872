package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true, "debug")
	require.NoError(t, err)
	assert.NotNil(t, Logger)
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false, "warn")
	require.NoError(t, err)
	assert.NotNil(t, Logger)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, "info", parseLevel("info").String())
	assert.Equal(t, "info", parseLevel("not-a-level").String())
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
}

func TestWithTagsSymbol(t *testing.T) {
	require.NoError(t, Initialize(true, "info"))
	sub := With("engine")
	assert.NotNil(t, sub)
}
