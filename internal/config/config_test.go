package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOOKOUT_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, "claude", cfg.ReasoningBinary)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, []string{"mcp__ib__*"}, cfg.ReasoningCapabilities)
}

func TestLoadCapabilitiesFromEnv(t *testing.T) {
	t.Setenv("LOOKOUT_DATA_DIR", t.TempDir())
	t.Setenv("LOOKOUT_REASONING_CAPABILITIES", "mcp__ib__*, mcp__news__read ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp__ib__*", "mcp__news__read"}, cfg.ReasoningCapabilities)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , ,"))
	assert.Equal(t, []string{"a", "b"}, splitList("a,b"))
}
