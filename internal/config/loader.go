package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"loopd/internal/genloop"
	"loopd/internal/sim"
)

// Config holds runtime parameters for the CLI and the server.
// Files are decoded on top of Default(), so absent keys keep their default.
type Config struct {
	Server     Server         `json:"server" yaml:"server" toml:"server"`
	Log        Log            `json:"log" yaml:"log" toml:"log"`
	Generation genloop.Params `json:"generation" yaml:"generation" toml:"generation"`
	Model      sim.Config     `json:"model" yaml:"model" toml:"model"`
}

// Server configures `loopd serve`.
type Server struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	CacheDir string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`

	MaxSessions         int   `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	MaxWaitSeconds      int   `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	DrainTimeoutSeconds int   `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds"`
	MaxBodyBytes        int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// Upper bound for the ?wait= long-poll parameter.
	MaxPollSeconds int `json:"max_poll_seconds" yaml:"max_poll_seconds" toml:"max_poll_seconds"`

	CORS CORS `json:"cors" yaml:"cors" toml:"cors"`
}

// CORS is opt-in.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Log selects the zerolog level and output format (console or json).
type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                ":8080",
			CacheDir:            "~/.cache/loopd",
			MaxSessions:         4,
			MaxWaitSeconds:      30,
			DrainTimeoutSeconds: 10,
			MaxBodyBytes:        1 << 20,
			MaxPollSeconds:      30,
		},
		Log:        Log{Level: "info", Format: "console"},
		Generation: genloop.DefaultParams(),
		Model:      sim.Config{NCtx: 4096, AddBOS: true, Script: "Hello from the simulated model.</s>"},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns Default() when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
