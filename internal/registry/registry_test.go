package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
)

func TestBuildFromConfig_EnabledDefault(t *testing.T) {
	doc := `{"mcpServers": {"echo": {"command": "echo-server"}}}`
	reg, err := BuildFromConfig(strings.NewReader(doc))
	require.NoError(t, err)

	e, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.True(t, e.Enabled)
	assert.Equal(t, "echo-server", e.Command)
}

func TestBuildFromConfig_DisabledEntryNotFound(t *testing.T) {
	doc := `{"mcpServers": {"x": {"command": "true", "enabled": false}}}`
	reg, err := BuildFromConfig(strings.NewReader(doc))
	require.NoError(t, err)

	_, ok := reg.Lookup("x")
	assert.False(t, ok, "disabled entries must not be looked up, matching the 404 rule")
}

func TestBuildFromConfig_MissingCommandFails(t *testing.T) {
	doc := `{"mcpServers": {"bad": {}}}`
	_, err := BuildFromConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, stderrors.ErrConfigInvalid)
}

func TestBuildFromConfig_InvalidNameFails(t *testing.T) {
	doc := `{"mcpServers": {"bad name!": {"command": "true"}}}`
	_, err := BuildFromConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, stderrors.ErrConfigInvalid)
}

func TestBuildFromConfig_HeaderToEnv(t *testing.T) {
	doc := `{"mcpServers": {"e": {"command": "true", "headerToEnv": {"X-Token": "TOK"}}}}`
	reg, err := BuildFromConfig(strings.NewReader(doc))
	require.NoError(t, err)

	e, ok := reg.Lookup("e")
	require.True(t, ok)
	assert.Equal(t, "TOK", e.HeaderToEnv["X-Token"])
}

func TestBuildFromConfig_UnknownFieldsIgnored(t *testing.T) {
	doc := `{"mcpServers": {"e": {"command": "true", "timeout": 30, "transportType": "stdio"}}}`
	reg, err := BuildFromConfig(strings.NewReader(doc))
	require.NoError(t, err)

	_, ok := reg.Lookup("e")
	assert.True(t, ok)
}

func TestBuildFromFlags(t *testing.T) {
	reg, err := BuildFromFlags([]FlagEntry{
		{Name: "echo", Command: "echo-server", Args: []string{"--quiet"}},
	})
	require.NoError(t, err)

	e, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, []string{"--quiet"}, e.Args)
}

func TestBuildFromFlags_InvalidName(t *testing.T) {
	_, err := BuildFromFlags([]FlagEntry{{Name: "has space", Command: "x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, stderrors.ErrConfigInvalid)
}

func TestRegistryNamesIncludesDisabled(t *testing.T) {
	doc := `{"mcpServers": {"a": {"command": "true"}, "b": {"command": "true", "enabled": false}}}`
	reg, err := BuildFromConfig(strings.NewReader(doc))
	require.NoError(t, err)

	names := reg.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
