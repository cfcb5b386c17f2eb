package proxyconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ChildGraceTimeout)
	assert.Equal(t, 2*time.Second, cfg.DrainDeadline)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MCP_PROXY_LOG_LEVEL", "debug")
	t.Setenv("MCP_PROXY_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Debug)
}

func TestLoadBytes_FileLayer(t *testing.T) {
	cfg, err := LoadBytes([]byte("log_level: warn\ndrain_deadline: 3s\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.DrainDeadline)
	assert.Equal(t, 5*time.Second, cfg.ChildGraceTimeout, "untouched keys keep defaults")
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	f := t.TempDir() + "/settings.yaml"
	require.NoError(t, writeFile(f, "log_level: warn\n"))
	t.Setenv(SettingsFileEnv, f)
	t.Setenv("MCP_PROXY_LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestLoad_EnvOverridesDuration(t *testing.T) {
	t.Setenv("MCP_PROXY_DRAIN_DEADLINE", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.DrainDeadline)
}
