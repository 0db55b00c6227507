// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigPath is resolved relative to the user's home directory.
const defaultConfigPath = ".nora/config.yaml"

// Config is the CLI configuration, loaded from ~/.nora/config.yaml with
// environment overrides. Every field has a working default so the CLI
// runs without any config file at all.
type Config struct {
	// ServerURL is the orchestrator base URL.
	ServerURL string `yaml:"server_url"`

	// BatchSize for bulk classification uploads.
	BatchSize int `yaml:"batch_size"`

	// BatchPause between bulk batches, as a duration string like "2s".
	BatchPause string `yaml:"batch_pause"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// ShowAnalysis displays the classification snapshot after every
	// answer without requiring the /analysis toggle.
	ShowAnalysis bool `yaml:"show_analysis"`
}

func defaultCLIConfig() Config {
	return Config{
		ServerURL: "http://localhost:8000",
		LogLevel:  "info",
	}
}

// loadCLIConfig reads the config file when present and applies
// environment overrides. A missing file is not an error; a malformed
// one is.
func loadCLIConfig(path string) (Config, error) {
	cfg := defaultCLIConfig()

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, defaultConfigPath)
		}
	}

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if url := os.Getenv("NORA_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if level := os.Getenv("NORA_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultCLIConfig().ServerURL
	}
	return cfg, nil
}

// batchPause parses the configured pause, falling back to zero so the
// runner applies its own default.
func (c Config) batchPause() time.Duration {
	if c.BatchPause == "" {
		return 0
	}
	pause, err := time.ParseDuration(c.BatchPause)
	if err != nil {
		return 0
	}
	return pause
}
