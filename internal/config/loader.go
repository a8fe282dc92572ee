package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, environment-expands, and parses the YAML file at path,
// applying defaults and validating the result. Mirrors
// tarsy's configLoader.loadYAML + Initialize pipeline, collapsed to a
// single file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	data = expandEnv(data)

	var cfg Config
	cfg.path = path
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: invalid yaml in %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv expands ${VAR} and $VAR references using the shell-style rules
// of os.Expand, matching tarsy's ExpandEnv.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
