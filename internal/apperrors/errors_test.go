package apperrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("execution %s", "abc-123")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "abc-123")
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := NewConflict("execution already terminal")
	wrapped := Wrap(err, "cancel rejected")

	assert.True(t, Is(wrapped, ErrConflict))
	assert.True(t, IsConflict(wrapped))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err          error
		wantStatus   int
		wantCode     Code
	}{
		{NewValidation("command required"), 400, CodeValidation},
		{NewNotFound("execution"), 404, CodeNotFound},
		{NewConflict("already terminal"), 409, CodeConflict},
		{NewStoreUnavailable("db closed"), 503, CodeStoreUnavailable},
		{NewIOError("disk full"), 500, CodeIOError},
		{NewChildProcess("spawn failed"), 500, CodeChildProcess},
		{NewOverloaded("queue full"), 503, CodeOverloaded},
		{NewTimeout("deadline exceeded"), 504, CodeTimeout},
		{New("mystery failure"), 500, CodeInternal},
	}

	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.wantStatus, status, tc.err.Error())
		assert.Equal(t, tc.wantCode, code, tc.err.Error())
	}
}

func TestIsHelpersNilSafe(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsConflict(nil))
	assert.False(t, IsTimeout(nil))
}
