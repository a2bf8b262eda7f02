package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and carry "did you mean"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolveConfigPath picks the config file path: CLI, then env, then the
// platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the validated config and the file path it was read from.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}

	env.apply(cfg)
	cli.apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, path, nil
}
