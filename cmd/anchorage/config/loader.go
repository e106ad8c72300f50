// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the shared struct validator. The validator instance caches
// struct metadata, so a single instance is reused for every Load call.
var validate = validator.New()

// DefaultPath returns the stock config location (~/.anchorage/anchorage.yaml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".anchorage", "anchorage.yaml"), nil
}

// Load reads, overlays, and validates the deployment config at path.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path (creating it
// with defaults on first run), then applies ANCHORAGE_* environment
// overrides, and finally validates the result. Load returns a value, not
// a shared singleton, so tests can run multiple simulated installations
// in-process without cross-contamination.
//
// # Inputs
//
//   - path: Config file location; empty string selects DefaultPath()
//
// # Outputs
//
//   - Config: The validated deployment description
//   - error: Non-nil if the file is unreadable, unparsable, or invalid
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks a Config for structural and semantic problems.
//
// Beyond struct-tag validation, it enforces the one rule the tags cannot
// express: the backup root must not live inside the install directory,
// or a force-clean wipe would destroy its own rollback point.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	installAbs, err := filepath.Abs(cfg.InstallDir)
	if err != nil {
		return fmt.Errorf("invalid install_dir %q: %w", cfg.InstallDir, err)
	}
	backupAbs, err := filepath.Abs(cfg.BackupRoot)
	if err != nil {
		return fmt.Errorf("invalid backup_root %q: %w", cfg.BackupRoot, err)
	}
	if backupAbs == installAbs || strings.HasPrefix(backupAbs+string(filepath.Separator), installAbs+string(filepath.Separator)) {
		return fmt.Errorf("backup_root %q must be outside install_dir %q", cfg.BackupRoot, cfg.InstallDir)
	}

	seen := make(map[string]bool, len(cfg.Stack.Services))
	for _, svc := range cfg.Stack.Services {
		if seen[svc.ContainerName] {
			return fmt.Errorf("duplicate container_name %q", svc.ContainerName)
		}
		seen[svc.ContainerName] = true
	}

	return nil
}

// writeDefault creates the config file with stock values on first run.
func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
