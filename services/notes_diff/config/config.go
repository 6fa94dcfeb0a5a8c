// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the notes diff service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/telemetry"
)

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid notes diff configuration")

var validate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the full service configuration.
type Config struct {
	Retry     retry.Config     `yaml:"retry"`
	Stream    StreamConfig     `yaml:"stream"`
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	LLM       LLMConfig        `yaml:"llm"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StreamConfig controls stream consumption.
type StreamConfig struct {
	// IdleTimeout aborts a stream that produces nothing for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"gte=0"`
}

// StoreConfig selects where lifecycle state is persisted.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `yaml:"path" validate:"required_unless=InMemory true"`

	// InMemory keeps all state in memory.
	InMemory bool `yaml:"in_memory"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port  int  `yaml:"port" validate:"min=1,max=65535"`
	Debug bool `yaml:"debug"`
}

// LLMConfig points at an OpenAI-compatible endpoint.
type LLMConfig struct {
	// BaseURL overrides the API base, e.g. a local Ollama or vLLM server.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model is the chat model used for generation and regeneration.
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Temperature is the sampling temperature.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// APIKey returns the key from the environment, or "" if unset.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// LoggingConfig controls the service logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Retry:  retry.DefaultConfig(),
		Stream: StreamConfig{IdleTimeout: 60 * time.Second},
		Store:  StoreConfig{Path: filepath.Join(aleutianDir(), "notes_diff", "db")},
		Server: ServerConfig{Port: 12215},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "llama3.1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.aleutian/notes_diff.yaml.
func DefaultPath() string {
	return filepath.Join(aleutianDir(), "notes_diff.yaml")
}

// Load reads the configuration at path.
//
// # Description
//
// Keys absent from the file keep their DefaultConfig values. With an empty
// path the default location is used, and a missing file there yields the
// defaults. A missing file at an explicit path is an error.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Read, YAML or validation failure. Validation failures wrap
//     ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		return cfg, nil
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags of every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func aleutianDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aleutian"
	}
	return filepath.Join(home, ".aleutian")
}
