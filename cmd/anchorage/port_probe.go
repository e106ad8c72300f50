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
	"strconv"
	"strings"

	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// =============================================================================
// Probe Result
// =============================================================================

// ProbeResult is the tri-state outcome of a single host inspection.
//
// # Description
//
// Host inspection tools come and go between distributions, so a probe
// that cannot run must say so instead of being coerced into "no
// conflict". Callers treat ProbeUnknown as "a conflict may exist".
type ProbeResult int

const (
	// ProbeClear means the probe ran and found nothing.
	ProbeClear ProbeResult = iota

	// ProbeConflict means the probe ran and found a conflicting binding.
	ProbeConflict

	// ProbeUnknown means the probe could not determine an answer
	// (tool missing, command failed, output unparsable).
	ProbeUnknown
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeClear:
		return "clear"
	case ProbeConflict:
		return "conflict"
	case ProbeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// =============================================================================
// PortProbe Interface
// =============================================================================

// PortProbe inspects whether a TCP port has a listener.
//
// # Description
//
// One implementation per inspection tool. The chain tries each probe in
// order and uses the first whose tool is available; a probe never lies
// about availability by guessing.
//
// # Thread Safety
//
// Implementations are stateless and safe for concurrent use.
type PortProbe interface {
	// Name identifies the underlying tool ("ss", "netstat", "lsof").
	Name() string

	// Available reports whether the tool can run on this host.
	Available() bool

	// Check inspects a single port. The owner return value names the
	// process or socket summary when a listener is found, best effort.
	Check(ctx context.Context, port int) (result ProbeResult, owner string)
}

// =============================================================================
// Probe Implementations
// =============================================================================

// ssProbe inspects listeners with iproute2's ss.
type ssProbe struct {
	proc    ProcessManager
	timeout util.TimeoutConfig
}

func (p *ssProbe) Name() string    { return "ss" }
func (p *ssProbe) Available() bool { return p.proc.LookPath("ss") }

func (p *ssProbe) Check(ctx context.Context, port int) (ProbeResult, string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout.Probe)
	defer cancel()

	// -H suppresses the header, -ltn lists TCP listeners numerically.
	out, err := p.proc.Run(ctx, "ss", "-Hltn", fmt.Sprintf("sport = :%d", port))
	if err != nil {
		return ProbeUnknown, ""
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return ProbeClear, ""
	}
	return ProbeConflict, firstLine(line)
}

// netstatProbe inspects listeners with net-tools' netstat.
type netstatProbe struct {
	proc    ProcessManager
	timeout util.TimeoutConfig
}

func (p *netstatProbe) Name() string    { return "netstat" }
func (p *netstatProbe) Available() bool { return p.proc.LookPath("netstat") }

func (p *netstatProbe) Check(ctx context.Context, port int) (ProbeResult, string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout.Probe)
	defer cancel()

	out, err := p.proc.Run(ctx, "netstat", "-ltn")
	if err != nil {
		return ProbeUnknown, ""
	}

	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// Proto Recv-Q Send-Q Local-Address Foreign-Address State
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "tcp") {
			continue
		}
		if strings.HasSuffix(fields[3], suffix) {
			return ProbeConflict, strings.TrimSpace(line)
		}
	}
	return ProbeClear, ""
}

// lsofProbe inspects listeners with lsof.
type lsofProbe struct {
	proc    ProcessManager
	timeout util.TimeoutConfig
}

func (p *lsofProbe) Name() string    { return "lsof" }
func (p *lsofProbe) Available() bool { return p.proc.LookPath("lsof") }

func (p *lsofProbe) Check(ctx context.Context, port int) (ProbeResult, string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout.Probe)
	defer cancel()

	out, err := p.proc.Run(ctx, "lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	if err != nil {
		// lsof exits 1 both for "nothing found" and for real failures.
		// Empty output with exit 1 is the "nothing found" case.
		var cmdErr *util.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && cmdErr.Stderr == "" {
			return ProbeClear, ""
		}
		return ProbeUnknown, ""
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	// First line is the COMMAND/PID header.
	if len(lines) > 1 {
		return ProbeConflict, strings.TrimSpace(lines[1])
	}
	return ProbeClear, ""
}

// =============================================================================
// Probe Chain
// =============================================================================

// PortProbeChain walks an ordered list of probes and uses the first
// available tool.
//
// # Description
//
// The chain exists because no single port-inspection tool is guaranteed
// to be installed. Order matters only for preference, not correctness:
// every probe answers the same question. When no tool at all is
// available the chain returns ProbeUnknown, never ProbeClear.
type PortProbeChain struct {
	probes []PortProbe
	logf   func(format string, args ...any)
}

// NewPortProbeChain builds the standard ss -> netstat -> lsof chain.
func NewPortProbeChain(proc ProcessManager, timeouts util.TimeoutConfig, logf func(string, ...any)) *PortProbeChain {
	t := timeouts.Validated()
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &PortProbeChain{
		probes: []PortProbe{
			&ssProbe{proc: proc, timeout: t},
			&netstatProbe{proc: proc, timeout: t},
			&lsofProbe{proc: proc, timeout: t},
		},
		logf: logf,
	}
}

// NewPortProbeChainWith builds a chain from explicit probes (tests).
func NewPortProbeChainWith(probes ...PortProbe) *PortProbeChain {
	return &PortProbeChain{probes: probes, logf: func(string, ...any) {}}
}

// Check inspects one port through the chain.
//
// # Description
//
// The first available probe decides. A probe returning ProbeUnknown does
// not fall through to the next tool: an installed-but-failing tool means
// the host is in a state we should not guess about.
//
// # Outputs
//
//   - ProbeResult: conflict, clear, or unknown
//   - string: owning process/socket summary when a conflict was found
func (c *PortProbeChain) Check(ctx context.Context, port int) (ProbeResult, string) {
	for _, probe := range c.probes {
		if !probe.Available() {
			c.logf("port probe %s unavailable, trying next", probe.Name())
			continue
		}
		result, owner := probe.Check(ctx, port)
		c.logf("port %d: %s via %s", port, result, probe.Name())
		return result, owner
	}
	c.logf("port %d: no inspection tool available", port)
	return ProbeUnknown, ""
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
