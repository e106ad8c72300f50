// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "time"

// =============================================================================
// Constants
// =============================================================================

// Timeout constants define minimum and default values for various operations.
//
// These constants prevent accidental infinite hangs by ensuring all
// operations have a reasonable timeout even if misconfigured.
const (
	// MinProbeTimeout is the absolute minimum for host inspection probes
	// (port listeners, cron table, container listings).
	MinProbeTimeout = 1 * time.Second

	// MinDockerTimeout is the absolute minimum for docker CLI operations.
	MinDockerTimeout = 5 * time.Second

	// MinTCPTimeout is the absolute minimum for TCP connectivity checks.
	MinTCPTimeout = 500 * time.Millisecond

	// DefaultProbeTimeout is the standard timeout for host inspection probes.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDockerTimeout is the standard timeout for docker start/stop/rm.
	DefaultDockerTimeout = 2 * time.Minute

	// DefaultComposeTimeout is the standard timeout for compose up/down.
	DefaultComposeTimeout = 5 * time.Minute

	// DefaultTCPTimeout is the standard timeout for TCP connectivity checks.
	DefaultTCPTimeout = 5 * time.Second
)

// =============================================================================
// TimeoutConfig
// =============================================================================

// TimeoutConfig holds the timeout settings for external operations.
//
// # Description
//
// Groups the timeouts for host probes, docker CLI calls, compose
// invocations, and TCP health checks. Use Validated to obtain a copy
// with all values raised to their enforced minimums.
//
// # Example
//
//	cfg := util.TimeoutConfig{Docker: time.Second}.Validated()
//	// cfg.Docker == util.MinDockerTimeout
type TimeoutConfig struct {
	// Probe is the timeout for a single host inspection command.
	Probe time.Duration

	// Docker is the timeout for a single docker CLI operation.
	Docker time.Duration

	// Compose is the timeout for docker compose up/down.
	Compose time.Duration

	// TCP is the timeout for a single TCP connectivity check.
	TCP time.Duration
}

// DefaultTimeouts returns a TimeoutConfig with standard values.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Probe:   DefaultProbeTimeout,
		Docker:  DefaultDockerTimeout,
		Compose: DefaultComposeTimeout,
		TCP:     DefaultTCPTimeout,
	}
}

// Validated returns a copy with all timeouts at least at their minimums.
//
// # Description
//
// Returns a new TimeoutConfig where any value at or below zero has been
// replaced with its default, and any value below its minimum has been
// raised to the minimum. The original config is not modified.
//
// # Outputs
//
//   - TimeoutConfig: A validated copy with enforced minimums
func (c TimeoutConfig) Validated() TimeoutConfig {
	out := c
	if out.Probe <= 0 {
		out.Probe = DefaultProbeTimeout
	} else if out.Probe < MinProbeTimeout {
		out.Probe = MinProbeTimeout
	}
	if out.Docker <= 0 {
		out.Docker = DefaultDockerTimeout
	} else if out.Docker < MinDockerTimeout {
		out.Docker = MinDockerTimeout
	}
	if out.Compose <= 0 {
		out.Compose = DefaultComposeTimeout
	} else if out.Compose < MinDockerTimeout {
		out.Compose = MinDockerTimeout
	}
	if out.TCP <= 0 {
		out.TCP = DefaultTCPTimeout
	} else if out.TCP < MinTCPTimeout {
		out.TCP = MinTCPTimeout
	}
	return out
}
