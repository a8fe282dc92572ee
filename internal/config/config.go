// Package config loads agentflow's YAML configuration, grounded on
// _examples/codeready-toolchain-tarsy/pkg/config/loader.go's
// read-expand-unmarshal-validate pipeline (ExpandEnv for ${VAR}
// interpolation, then gopkg.in/yaml.v3).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrConfigNotFound is returned when the config file does not exist.
var ErrConfigNotFound = errors.New("config: file not found")

// ProviderConfig configures a single LLM provider backend.
type ProviderConfig struct {
	// Kind selects the provider adapter: "anthropic" or "openai".
	Kind string `yaml:"kind"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`
	// MaxInputTokens caps the preflight token-budget check; zero disables it.
	MaxInputTokens int `yaml:"max_input_tokens"`
	// SupportsImages enables multimodal routing in the gateway.
	SupportsImages bool `yaml:"supports_images"`
	// Temperature and MaxTokens are per-request generation parameters.
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RateLimitConfig configures the adaptive tokens-per-minute rate limiter
// wrapping a provider client.
type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	InitialTPM float64 `yaml:"initial_tpm"`
	MaxTPM     float64 `yaml:"max_tpm"`
}

// SessionStoreConfig selects and configures the durable session store.
type SessionStoreConfig struct {
	// Backend is "file" or "redis".
	Backend string `yaml:"backend"`
	// Dir is the directory for the file backend.
	Dir string `yaml:"dir"`
	// RedisAddr, RedisPassword, RedisDB configure the redis backend.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// TTL expires redis-backed snapshots after inactivity; zero never expires.
	TTL time.Duration `yaml:"ttl"`
}

// FlowConfig configures the Planning Flow's execution bounds.
type FlowConfig struct {
	// BudgetSeconds is the soft wall-clock budget for the whole run; zero
	// disables the deadline.
	BudgetSeconds int `yaml:"budget_seconds"`
	// FinalizerGraceSeconds is reserved time for _finalize_plan once the
	// budget is reached.
	FinalizerGraceSeconds int `yaml:"finalizer_grace_seconds"`
	// PlanningMaxSteps and ExecutorMaxSteps bound each agent's think/act loop.
	PlanningMaxSteps int `yaml:"planning_max_steps"`
	ExecutorMaxSteps int `yaml:"executor_max_steps"`
	// MaxObserve truncates tool observations before they enter memory.
	MaxObserve int `yaml:"max_observe"`
	// MaxConsecutiveFailures bounds an agent's consecutive tool failures
	// before it gives up (SPEC_FULL.md §9 Open Question 2).
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	// AutoSummarize enables compressing flow memory before every non-first
	// plan step (SPEC_FULL.md §4.9); opt-in, like RateLimitConfig.Enabled.
	AutoSummarize bool `yaml:"auto_summarize"`
}

// Config is agentflow's top-level configuration, loaded from a single YAML
// file (agentflow.yaml).
type Config struct {
	Providers   map[string]ProviderConfig `yaml:"providers"`
	PlanningLLM string                    `yaml:"planning_llm"`
	ExecutorLLM string                    `yaml:"executor_llm"`
	FinalizeLLM string                    `yaml:"finalize_llm"`
	// SummarizeLLM names the provider role used for conversation
	// summarization; only required when Flow.AutoSummarize is true.
	SummarizeLLM string             `yaml:"summarize_llm"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Flow         FlowConfig         `yaml:"flow"`
	LogDir       string             `yaml:"log_dir"`

	path string
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// ApplyDefaults fills in zero-valued fields with agentflow's built-in
// defaults, mirroring tarsy's load()'s "merge built-in + user-defined"
// step applied to a single-file config.
func (c *Config) ApplyDefaults() {
	if c.Flow.PlanningMaxSteps == 0 {
		c.Flow.PlanningMaxSteps = 20
	}
	if c.Flow.ExecutorMaxSteps == 0 {
		c.Flow.ExecutorMaxSteps = 30
	}
	if c.Flow.MaxObserve == 0 {
		c.Flow.MaxObserve = 10000
	}
	if c.Flow.MaxConsecutiveFailures == 0 {
		c.Flow.MaxConsecutiveFailures = 2
	}
	if c.Flow.FinalizerGraceSeconds == 0 {
		c.Flow.FinalizerGraceSeconds = 120
	}
	if c.SessionStore.Backend == "" {
		c.SessionStore.Backend = "file"
	}
	if c.SessionStore.Dir == "" {
		c.SessionStore.Dir = "sessions"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

// Validate checks that every LLM role names a configured provider.
func (c *Config) Validate() error {
	roles := []struct{ name, value string }{
		{"planning_llm", c.PlanningLLM},
		{"executor_llm", c.ExecutorLLM},
		{"finalize_llm", c.FinalizeLLM},
	}
	if c.Flow.AutoSummarize {
		roles = append(roles, struct{ name, value string }{"summarize_llm", c.SummarizeLLM})
	}
	for _, role := range roles {
		if role.value == "" {
			return fmt.Errorf("config: %s is required", role.name)
		}
		if _, ok := c.Providers[role.value]; !ok {
			return fmt.Errorf("config: %s references unknown provider %q", role.name, role.value)
		}
	}
	for name, p := range c.Providers {
		if p.Kind != "anthropic" && p.Kind != "openai" {
			return fmt.Errorf("config: provider %q has unknown kind %q", name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("config: provider %q is missing model", name)
		}
	}
	return nil
}

// APIKey resolves a provider's API key from its configured environment
// variable.
func (p ProviderConfig) APIKey() (string, error) {
	env := p.APIKeyEnv
	if env == "" {
		env = defaultAPIKeyEnv(p.Kind)
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("config: environment variable %q is not set", env)
	}
	return key, nil
}

func defaultAPIKeyEnv(kind string) string {
	switch kind {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
