// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// =============================================================================
// Compose File Rendering
// =============================================================================

// composeService mirrors the subset of the compose schema we emit.
type composeService struct {
	ContainerName string   `yaml:"container_name"`
	Image         string   `yaml:"image"`
	Restart       string   `yaml:"restart"`
	Ports         []string `yaml:"ports,omitempty"`
	EnvFile       []string `yaml:"env_file,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	Networks      []string `yaml:"networks"`
}

type composeNetwork struct {
	Name string `yaml:"name"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

// renderComposeFile writes docker-compose.yaml for the configured stack.
func renderComposeFile(cfg config.Config) error {
	out := composeFile{
		Services: make(map[string]composeService, len(cfg.Stack.Services)),
		Networks: map[string]composeNetwork{
			"default": {Name: cfg.Stack.NetworkName},
		},
	}

	for _, svc := range cfg.Stack.Services {
		entry := composeService{
			ContainerName: svc.ContainerName,
			Image:         svc.Image,
			Restart:       "unless-stopped",
			EnvFile:       []string{".env"},
			Volumes:       []string{fmt.Sprintf("./data/%s:/var/lib/%s", svc.Name, svc.Name)},
			Networks:      []string{"default"},
		}
		if svc.Port > 0 {
			entry.Ports = []string{strconv.Itoa(svc.Port) + ":" + strconv.Itoa(svc.Port)}
		}
		out.Services[svc.Name] = entry
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("cannot render compose file: %w", err)
	}
	if err := os.WriteFile(cfg.ComposeFile(), data, 0o640); err != nil {
		return fmt.Errorf("cannot write %s: %w", cfg.ComposeFile(), err)
	}
	return nil
}

// =============================================================================
// Credentials and Environment
// =============================================================================

// generateSecret returns a 32-hex-char random secret.
func generateSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cannot generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateStackEnv builds the environment a new installation runs with.
// Every secret is freshly generated and marked sensitive so it never
// reaches a log line unredacted.
func generateStackEnv(cfg config.Config) (util.EnvVars, error) {
	pgPass, err := generateSecret()
	if err != nil {
		return nil, err
	}
	redisPass, err := generateSecret()
	if err != nil {
		return nil, err
	}
	appSecret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	vars := util.EnvVars{
		{Key: "ANCHORAGE_NETWORK", Value: cfg.Stack.NetworkName},
		{Key: "POSTGRES_USER", Value: "anchorage"},
		{Key: "POSTGRES_PASSWORD", Value: pgPass, Sensitive: true},
		{Key: "POSTGRES_DB", Value: "anchorage"},
		{Key: "REDIS_PASSWORD", Value: redisPass, Sensitive: true},
		{Key: "APP_SECRET_KEY", Value: appSecret, Sensitive: true},
	}
	if err := vars.Validate(); err != nil {
		return nil, err
	}
	return vars, nil
}

// writeEnvFile persists the .env consumed by the compose stack.
func writeEnvFile(cfg config.Config, vars util.EnvVars) error {
	if err := os.WriteFile(cfg.EnvFile(), []byte(vars.Render()), 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", cfg.EnvFile(), err)
	}
	return nil
}

// writeCredentialFiles stores each secret in its own file under
// credentials/, for operators and sidecar tooling that cannot read .env.
func writeCredentialFiles(cfg config.Config, vars util.EnvVars) error {
	dir := cfg.CredentialsDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create credentials dir: %w", err)
	}
	for _, v := range vars {
		if !v.Sensitive {
			continue
		}
		path := filepath.Join(dir, v.Key)
		if err := os.WriteFile(path, []byte(v.Value+"\n"), 0o600); err != nil {
			return fmt.Errorf("cannot write credential %s: %w", v.Key, err)
		}
	}
	return nil
}
