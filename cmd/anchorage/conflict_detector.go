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
	"os"
	"path/filepath"
	"strings"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
	"github.com/anchorage-io/anchorage/pkg/logging"
)

// =============================================================================
// Report Types
// =============================================================================

// DirectoryConflict records a non-empty install-target directory.
type DirectoryConflict struct {
	// Path is the conflicting directory.
	Path string

	// Reason explains what was found there.
	Reason string
}

// ContainerConflict records an existing container using one of our names.
type ContainerConflict struct {
	// ContainerName is the colliding name.
	ContainerName string

	// Status is the docker status line at detection time.
	Status string

	// Running is true for live containers.
	Running bool
}

// NetworkConflict records an existing docker network with our name.
type NetworkConflict struct {
	// NetworkName is the colliding network.
	NetworkName string
}

// PortConflict records an occupied (or undeterminable) expected port.
type PortConflict struct {
	// Port is the TCP port.
	Port int

	// Owner names the process or socket holding the port, best effort.
	Owner string

	// Unknown is true when no inspection tool could answer. An unknown
	// port counts toward uncertainty, never toward definite conflicts,
	// and is never silently cleared.
	Unknown bool
}

// CronConflict records a scheduler entry left by a prior installation.
type CronConflict struct {
	// Entry is the full crontab line that matched.
	Entry string
}

// ConflictReport is the immutable result of one detection pass.
//
// # Description
//
// Each category is an independent set produced by its own pure check;
// the report is assembled by the detector, so no check ordering is
// load-bearing for correctness. A fresh report is created on every pass
// and never persisted.
type ConflictReport struct {
	Directories []DirectoryConflict
	Containers  []ContainerConflict
	Networks    []NetworkConflict
	Ports       []PortConflict
	Cron        []CronConflict

	// Uncertain lists categories whose inspection tooling failed
	// ("containers", "networks", "cron"). Ports carry their own
	// per-entry Unknown flag.
	Uncertain []string
}

// HasConflicts is true iff any category found a definite conflict.
// An unknown port is not a conflict; it surfaces through
// HasUncertainty instead, so "occupied" and "could not determine"
// stay distinguishable to the caller.
//
// Derived, never stored: the report has no settable conflict flag.
func (r ConflictReport) HasConflicts() bool {
	for _, p := range r.Ports {
		if !p.Unknown {
			return true
		}
	}
	return len(r.Directories) > 0 ||
		len(r.Containers) > 0 ||
		len(r.Networks) > 0 ||
		len(r.Cron) > 0
}

// HasUncertainty is true when at least one check could not complete.
func (r ConflictReport) HasUncertainty() bool {
	if len(r.Uncertain) > 0 {
		return true
	}
	for _, p := range r.Ports {
		if p.Unknown {
			return true
		}
	}
	return false
}

// RunningContainers returns the names of conflicting containers that are up.
func (r ConflictReport) RunningContainers() []string {
	var names []string
	for _, c := range r.Containers {
		if c.Running {
			names = append(names, c.ContainerName)
		}
	}
	return names
}

// =============================================================================
// Detector
// =============================================================================

// bookkeepingEntries are install-dir entries the detector itself (or the
// installer's logging) creates; their presence alone does not make a
// directory "occupied".
var bookkeepingEntries = map[string]bool{
	".anchorage-state": true,
	"install.log":      true,
}

// ConflictDetector inspects host state for a prior or colliding install.
//
// # Description
//
// The detector is strictly read-only. It runs its five checks in a fixed
// order (directory, containers, network, ports, cron) purely for stable
// output; each check is independent and a tool failure in one never
// short-circuits the rest. Failures degrade to "uncertain", which the
// caller must treat as "a conflict may exist".
//
// # Thread Safety
//
// ConflictDetector is stateless and safe for concurrent use.
type ConflictDetector struct {
	cfg    config.Config
	docker *DockerClient
	proc   ProcessManager
	ports  *PortProbeChain
	log    *logging.Logger
}

// NewConflictDetector wires a detector against real host tooling.
func NewConflictDetector(cfg config.Config, proc ProcessManager, timeouts util.TimeoutConfig, log *logging.Logger) *ConflictDetector {
	if log == nil {
		log = logging.Default()
	}
	return &ConflictDetector{
		cfg:    cfg,
		docker: NewDockerClient(proc, timeouts),
		proc:   proc,
		ports:  NewPortProbeChain(proc, timeouts, log.Printf),
		log:    log,
	}
}

// DetectAll runs every check and assembles the report.
//
// # Outputs
//
//   - ConflictReport: Fresh, immutable findings for this pass
//   - error: Non-nil only for programmer errors (bad config); tool
//     failures are folded into the report's uncertainty instead
func (d *ConflictDetector) DetectAll(ctx context.Context) (ConflictReport, error) {
	var report ConflictReport

	report.Directories = d.checkDirectory()

	containers, err := d.checkContainers(ctx)
	if err != nil {
		d.log.Warn("container check could not complete", "error", err)
		report.Uncertain = append(report.Uncertain, "containers")
	} else {
		report.Containers = containers
	}

	networks, err := d.checkNetwork(ctx)
	if err != nil {
		d.log.Warn("network check could not complete", "error", err)
		report.Uncertain = append(report.Uncertain, "networks")
	} else {
		report.Networks = networks
	}

	report.Ports = d.checkPorts(ctx)

	cron, err := d.checkCron(ctx)
	if err != nil {
		d.log.Warn("cron check could not complete", "error", err)
		report.Uncertain = append(report.Uncertain, "cron")
	} else {
		report.Cron = cron
	}

	return report, nil
}

// checkDirectory reports the install dir when it exists and holds
// anything beyond our own bookkeeping files.
func (d *ConflictDetector) checkDirectory() []DirectoryConflict {
	entries, err := os.ReadDir(d.cfg.InstallDir)
	if err != nil {
		// Missing directory is the clean-host case.
		return nil
	}

	var meaningful []string
	for _, e := range entries {
		if bookkeepingEntries[e.Name()] {
			continue
		}
		meaningful = append(meaningful, e.Name())
	}
	if len(meaningful) == 0 {
		return nil
	}

	reason := fmt.Sprintf("contains %d entries (e.g. %s)", len(meaningful), meaningful[0])
	return []DirectoryConflict{{Path: d.cfg.InstallDir, Reason: reason}}
}

// checkContainers finds any container, in any lifecycle state, using one
// of our expected names.
func (d *ConflictDetector) checkContainers(ctx context.Context) ([]ContainerConflict, error) {
	if !d.docker.Available() {
		return nil, errors.New("docker CLI not found on PATH")
	}

	states, err := d.docker.ListContainersByName(ctx, d.cfg.ContainerNames())
	if err != nil {
		return nil, err
	}

	conflicts := make([]ContainerConflict, 0, len(states))
	for _, st := range states {
		conflicts = append(conflicts, ContainerConflict{
			ContainerName: st.Name,
			Status:        st.Status,
			Running:       st.Running,
		})
	}
	return conflicts, nil
}

// checkNetwork finds a docker network with our expected name.
func (d *ConflictDetector) checkNetwork(ctx context.Context) ([]NetworkConflict, error) {
	if !d.docker.Available() {
		return nil, errors.New("docker CLI not found on PATH")
	}

	exists, err := d.docker.NetworkExists(ctx, d.cfg.Stack.NetworkName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return []NetworkConflict{{NetworkName: d.cfg.Stack.NetworkName}}, nil
}

// checkPorts probes every expected port through the fallback chain.
//
// ProbeUnknown surfaces as a PortConflict with Unknown set, so the
// distinction between "free" and "could not determine" survives into
// the report.
func (d *ConflictDetector) checkPorts(ctx context.Context) []PortConflict {
	var conflicts []PortConflict
	for _, port := range d.cfg.Ports() {
		result, owner := d.ports.Check(ctx, port)
		switch result {
		case ProbeConflict:
			conflicts = append(conflicts, PortConflict{Port: port, Owner: owner})
		case ProbeUnknown:
			conflicts = append(conflicts, PortConflict{Port: port, Unknown: true})
		}
	}
	return conflicts
}

// checkCron scans the active crontab for our signature substring.
func (d *ConflictDetector) checkCron(ctx context.Context) ([]CronConflict, error) {
	out, err := d.proc.Run(ctx, "crontab", "-l")
	if err != nil {
		// `crontab -l` exits 1 with "no crontab for <user>" on a clean
		// host; that is an answer, not a failure.
		var cmdErr *util.CommandError
		if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "no crontab") {
			return nil, nil
		}
		return nil, err
	}

	var conflicts []CronConflict
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, d.cfg.Cron.Signature) {
			conflicts = append(conflicts, CronConflict{Entry: trimmed})
		}
	}
	return conflicts, nil
}

// InstallStatePath returns the bookkeeping file the installer writes into
// the install dir; exposed so the directory check and installer agree.
func InstallStatePath(installDir string) string {
	return filepath.Join(installDir, ".anchorage-state")
}
