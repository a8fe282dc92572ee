package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
providers:
  claude:
    kind: anthropic
    api_key_env: TEST_ANTHROPIC_KEY
    model: claude-sonnet-4-5
  gpt:
    kind: openai
    model: gpt-4o
planning_llm: claude
executor_llm: claude
finalize_llm: gpt
log_dir: ${TEST_LOG_DIR}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesExpandsDefaultsAndValidates(t *testing.T) {
	t.Setenv("TEST_LOG_DIR", "/var/log/agentflow")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/agentflow", cfg.LogDir)
	assert.Equal(t, 20, cfg.Flow.PlanningMaxSteps)
	assert.Equal(t, 30, cfg.Flow.ExecutorMaxSteps)
	assert.Equal(t, 10000, cfg.Flow.MaxObserve)
	assert.Equal(t, 2, cfg.Flow.MaxConsecutiveFailures)
	assert.Equal(t, "file", cfg.SessionStore.Backend)
}

func TestLoad_MissingFileReturnsErrConfigNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestValidate_RejectsUnknownProviderReference(t *testing.T) {
	cfg := &Config{
		Providers:   map[string]ProviderConfig{"claude": {Kind: "anthropic", Model: "x"}},
		PlanningLLM: "claude",
		ExecutorLLM: "claude",
		FinalizeLLM: "does-not-exist",
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "unknown provider")
}

func TestAPIKey_UsesDefaultEnvVarWhenUnset(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	p := ProviderConfig{Kind: "anthropic", Model: "x"}
	key, err := p.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)
}
