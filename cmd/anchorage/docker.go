// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// ContainerState describes one existing container found on the host.
type ContainerState struct {
	// Name is the container name without the leading slash.
	Name string

	// Status is the human-readable docker status ("Up 2 hours",
	// "Exited (0) 3 days ago").
	Status string

	// Running is true when the status indicates a live container.
	Running bool
}

// DockerClient wraps the docker CLI behind the ProcessManager abstraction.
//
// # Description
//
// The engine treats the container runtime as a black box reached through
// process execution: every method here spawns `docker ...`, parses its
// `--format` text output, and converts failures into *util.CommandError.
// There is deliberately no Docker SDK involved; the decision logic lives
// in the parsers, not the transport.
//
// # Thread Safety
//
// DockerClient is stateless and safe for concurrent use as long as the
// underlying ProcessManager is.
type DockerClient struct {
	proc     ProcessManager
	timeouts util.TimeoutConfig
}

// NewDockerClient creates a DockerClient with validated timeouts.
func NewDockerClient(proc ProcessManager, timeouts util.TimeoutConfig) *DockerClient {
	return &DockerClient{proc: proc, timeouts: timeouts.Validated()}
}

// Available reports whether the docker CLI exists on PATH.
func (d *DockerClient) Available() bool {
	return d.proc.LookPath("docker")
}

// ListContainersByName returns the state of every container (any lifecycle
// state) whose name exactly matches one of the given names.
//
// # Description
//
// Runs `docker ps -a` once and filters client-side. Docker's --filter
// name= does substring matching, which would report `anchorage-app-old`
// as a match for `anchorage-app`, so exact matching happens here.
func (d *DockerClient) ListContainersByName(ctx context.Context, names []string) ([]ContainerState, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Docker)
	defer cancel()

	out, err := d.proc.Run(ctx, "docker", "ps", "-a", "--format", "{{.Names}}\t{{.Status}}")
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var result []ContainerState
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		name := strings.TrimSpace(fields[0])
		if !wanted[name] {
			continue
		}
		status := ""
		if len(fields) == 2 {
			status = strings.TrimSpace(fields[1])
		}
		result = append(result, ContainerState{
			Name:    name,
			Status:  status,
			Running: strings.HasPrefix(status, "Up"),
		})
	}
	return result, nil
}

// NetworkExists reports whether a docker network with the exact name exists.
func (d *DockerClient) NetworkExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Docker)
	defer cancel()

	out, err := d.proc.Run(ctx, "docker", "network", "ls", "--format", "{{.Name}}")
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// StopContainer gracefully stops a container by name.
//
// Stopping an already-stopped container is not an error.
func (d *DockerClient) StopContainer(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Docker)
	defer cancel()

	if _, err := d.proc.Run(ctx, "docker", "stop", name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

// RemoveContainer removes a stopped container by name.
//
// Removing a container that does not exist is not an error.
func (d *DockerClient) RemoveContainer(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Docker)
	defer cancel()

	if _, err := d.proc.Run(ctx, "docker", "rm", name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// RemoveNetwork removes a docker network by name.
//
// Removing a network that does not exist is not an error.
func (d *DockerClient) RemoveNetwork(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Docker)
	defer cancel()

	if _, err := d.proc.Run(ctx, "docker", "network", "rm", name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

// ComposeUp starts the stack defined by the compose file, detached.
func (d *DockerClient) ComposeUp(ctx context.Context, composeFile, project string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Compose)
	defer cancel()

	_, err := d.proc.Run(ctx, "docker", "compose",
		"-f", composeFile, "-p", project, "up", "-d")
	if err != nil {
		return fmt.Errorf("compose up: %w", err)
	}
	return nil
}

// ComposeDown stops and removes the stack defined by the compose file.
func (d *DockerClient) ComposeDown(ctx context.Context, composeFile, project string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Compose)
	defer cancel()

	_, err := d.proc.Run(ctx, "docker", "compose",
		"-f", composeFile, "-p", project, "down")
	if err != nil {
		return fmt.Errorf("compose down: %w", err)
	}
	return nil
}

// IsContainerRunning reports whether a named container is currently up.
func (d *DockerClient) IsContainerRunning(ctx context.Context, name string) (bool, error) {
	states, err := d.ListContainersByName(ctx, []string{name})
	if err != nil {
		return false, err
	}
	for _, st := range states {
		if st.Running {
			return true, nil
		}
	}
	return false, nil
}

// isNotFound detects docker's "no such container/network" stderr.
func isNotFound(err error) bool {
	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	return strings.Contains(stderr, "no such container") ||
		strings.Contains(stderr, "no such network") ||
		strings.Contains(stderr, "not found")
}
