package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	os.Unsetenv("STORAGE_PATH")
	os.Unsetenv("HTTP_PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./storage", cfg.StoragePath)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8765, cfg.WSPort)
	assert.Equal(t, 500, cfg.MaxConcurrentExecutions)
	assert.Equal(t, 64*1024, cfg.MaxLineBytes)
	assert.False(t, cfg.AuthEnabled)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	Reset()
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, "secret", cfg.AuthToken)
}

func TestLoadCachesConfig(t *testing.T) {
	Reset()
	t.Setenv("HTTP_PORT", "1111")
	first, err := Load()
	require.NoError(t, err)

	t.Setenv("HTTP_PORT", "2222")
	second, err := Load()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1111, second.HTTPPort)
}
