// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the Anchorage deployment description and its loader.
//
// The config answers one question for the installation engine: what does a
// complete Anchorage deployment look like on this host? Which containers,
// which network, which ports, which directories, and which paths deserve a
// backup before anything destructive happens.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the full deployment description for one host.
type Config struct {
	// InstallDir is the directory the stack is installed into.
	InstallDir string `yaml:"install_dir" validate:"required"`

	// BackupRoot is where backup archives and manifests are stored.
	// Must live outside InstallDir so a wipe cannot take the backups with it.
	BackupRoot string `yaml:"backup_root" validate:"required"`

	// Stack describes the expected container topology.
	Stack StackConfig `yaml:"stack"`

	// Backup controls what is captured and how long it is kept.
	Backup BackupConfig `yaml:"backup"`

	// Cron is the scheduler entry detection config.
	Cron CronConfig `yaml:"cron"`

	// Log controls CLI logging.
	Log LogConfig `yaml:"log"`
}

// StackConfig describes the fixed set of services this deployment runs.
type StackConfig struct {
	// NetworkName is the docker network the stack attaches to.
	NetworkName string `yaml:"network_name" validate:"required"`

	// ComposeProject is the docker compose project name.
	ComposeProject string `yaml:"compose_project" validate:"required"`

	// Services lists the expected services in start order.
	Services []ServiceConfig `yaml:"services" validate:"required,min=1,dive"`
}

// ServiceConfig describes one expected service.
type ServiceConfig struct {
	// Name is the compose service name (e.g. "postgres").
	Name string `yaml:"name" validate:"required"`

	// ContainerName is the fixed container name (e.g. "anchorage-postgres").
	ContainerName string `yaml:"container_name" validate:"required"`

	// Image is the container image reference.
	Image string `yaml:"image" validate:"required"`

	// Port is the host TCP port the service binds, 0 if none.
	Port int `yaml:"port" validate:"min=0,max=65535"`

	// Critical marks services whose health failure fails the install.
	Critical bool `yaml:"critical"`
}

// BackupConfig controls snapshot capture and retention.
type BackupConfig struct {
	// CandidatePaths are paths relative to InstallDir that are captured
	// when they exist. Absent paths are silently skipped.
	CandidatePaths []string `yaml:"candidate_paths" validate:"required,min=1"`

	// RetainCount is how many backups survive pruning.
	RetainCount int `yaml:"retain_count" validate:"min=1"`
}

// CronConfig describes the scheduler entry a prior install may have left.
type CronConfig struct {
	// Signature is the substring that identifies our maintenance entry
	// in the crontab.
	Signature string `yaml:"signature" validate:"required"`
}

// LogConfig controls CLI log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables file logging when set.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON format.
	JSON bool `yaml:"json"`
}

// ContainerNames returns the expected container names in service order.
func (c Config) ContainerNames() []string {
	names := make([]string, 0, len(c.Stack.Services))
	for _, svc := range c.Stack.Services {
		names = append(names, svc.ContainerName)
	}
	return names
}

// Ports returns the expected host ports, skipping services without one.
func (c Config) Ports() []int {
	ports := make([]int, 0, len(c.Stack.Services))
	for _, svc := range c.Stack.Services {
		if svc.Port > 0 {
			ports = append(ports, svc.Port)
		}
	}
	return ports
}

// CredentialsDir returns the absolute credentials path.
func (c Config) CredentialsDir() string {
	return filepath.Join(c.InstallDir, "credentials")
}

// DataDir returns the absolute per-service data root.
func (c Config) DataDir() string {
	return filepath.Join(c.InstallDir, "data")
}

// ComposeFile returns the absolute path of the generated compose file.
func (c Config) ComposeFile() string {
	return filepath.Join(c.InstallDir, "docker-compose.yaml")
}

// EnvFile returns the absolute path of the generated .env file.
func (c Config) EnvFile() string {
	return filepath.Join(c.InstallDir, ".env")
}

// DefaultConfig returns the stock Anchorage deployment description.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}

	return Config{
		InstallDir: "/opt/anchorage",
		BackupRoot: filepath.Join(home, ".anchorage", "backups"),
		Stack: StackConfig{
			NetworkName:    "anchorage-net",
			ComposeProject: "anchorage",
			Services: []ServiceConfig{
				{Name: "postgres", ContainerName: "anchorage-postgres", Image: "postgres:16-alpine", Port: 5432, Critical: true},
				{Name: "redis", ContainerName: "anchorage-redis", Image: "redis:7-alpine", Port: 6379, Critical: true},
				{Name: "app", ContainerName: "anchorage-app", Image: "anchorage/app:latest", Port: 8080, Critical: true},
				{Name: "proxy", ContainerName: "anchorage-proxy", Image: "caddy:2-alpine", Port: 443},
			},
		},
		Backup: BackupConfig{
			CandidatePaths: []string{"credentials", "data", ".env", "config"},
			RetainCount:    5,
		},
		Cron: CronConfig{
			Signature: "anchorage-maintenance",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// applyEnvOverrides layers ANCHORAGE_* variables over file values.
//
// Supported overrides:
//
//	ANCHORAGE_INSTALL_DIR
//	ANCHORAGE_BACKUP_ROOT
//	ANCHORAGE_RETAIN_COUNT
//	ANCHORAGE_LOG_LEVEL
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANCHORAGE_INSTALL_DIR"); v != "" {
		cfg.InstallDir = v
	}
	if v := os.Getenv("ANCHORAGE_BACKUP_ROOT"); v != "" {
		cfg.BackupRoot = v
	}
	if v := os.Getenv("ANCHORAGE_RETAIN_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Backup.RetainCount = n
		}
	}
	if v := os.Getenv("ANCHORAGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
