package subagents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_ContainsRequiredNames(t *testing.T) {
	reg := Default()
	required := []string{
		"code-reviewer", "error-fixer", "security-reviewer",
		"planner", "requirements-analyzer", "plan-validator",
		"component-generator", "data-explorer",
	}
	for _, name := range required {
		d, ok := reg.Get(name)
		assert.True(t, ok, "missing sub-agent %q", name)
		assert.NotEmpty(t, d.SystemPrompt, "sub-agent %q has no system prompt", name)
		assert.NotEmpty(t, d.AllowedTools, "sub-agent %q has no allowed tools", name)
	}
}

func TestGet_UnknownNameNotFound(t *testing.T) {
	reg := Default()
	_, ok := reg.Get("not-a-real-subagent")
	assert.False(t, ok)
}

func TestLoadOverrides_MergesOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subagents.yaml")
	yamlContent := `
- name: error-fixer
  description: custom error fixer
  system_prompt: Custom prompt.
  allowed_tools: [Read, Edit]
  tier: large
- name: custom-agent
  description: a new one
  system_prompt: Do the thing.
  allowed_tools: [Read]
  tier: small
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	reg, err := LoadOverrides(path)
	require.NoError(t, err)

	fixer, ok := reg.Get("error-fixer")
	require.True(t, ok)
	assert.Equal(t, "custom error fixer", fixer.Description)

	custom, ok := reg.Get("custom-agent")
	require.True(t, ok)
	assert.Equal(t, TierSmall, custom.Tier)

	// Untouched default entries survive the merge.
	_, ok = reg.Get("planner")
	assert.True(t, ok)
}

func TestLoadOverrides_EmptyPathReturnsDefault(t *testing.T) {
	reg, err := LoadOverrides("")
	require.NoError(t, err)
	assert.Equal(t, Default(), reg)
}
