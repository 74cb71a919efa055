package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// expandEnvVars replaces $(VAR) with the value of VAR.
func expandEnvVars(s string, environ map[string]string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return environ[envPattern.FindStringSubmatch(m)[1]]
	})
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	return env.ToMap(os.Environ())
}

// Load reads the file at path (defaults only when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = LoadFromPath(path)
	} else {
		cfg, err = Parse(nil, Environ())
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file over the defaults and applies environment
// overrides. The result is not validated.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, Environ())
}

// Parse decodes YAML over the defaults. $(VAR) placeholders are expanded
// before decoding and env-tagged fields are overridden afterwards.
func Parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := Default()
	expanded := expandEnvVars(string(data), environ)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}
