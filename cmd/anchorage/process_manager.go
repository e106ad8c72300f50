// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
ProcessManager abstracts external process execution for the installation
engine.

Every shell-out in the engine (docker CLI, port probes, crontab) goes
through this interface so unit tests can run against a mock instead of a
real host.

# Design Rationale

Direct calls to exec.Command are not testable because they execute real
processes. By abstracting process execution behind an interface, we can:
  - Mock process execution in tests
  - Capture and verify command invocations
  - Simulate success/failure scenarios without real processes
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ProcessManager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
type ProcessManager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Description
	//
	// Executes the specified command with arguments and waits for
	// completion. On failure the returned error is a *util.CommandError
	// carrying the exit code and trimmed stderr.
	//
	// # Example
	//
	//	output, err := pm.Run(ctx, "docker", "ps", "-a", "--format", "{{.Names}}")
	//	if err != nil {
	//	    return fmt.Errorf("failed to list containers: %w", err)
	//	}
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// Useful for commands that read from stdin (e.g. `crontab -` when
	// rewriting the scheduler table).
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// LookPath reports whether an executable is available on PATH.
	//
	// The conflict detector uses this to walk its ordered probe chain
	// without spawning processes for tools that do not exist.
	LookPath(name string) bool
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
//
// This is the production implementation that executes real processes on
// the system. Use MockProcessManager in tests instead.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a new DefaultProcessManager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), commandError(name, args, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// RunWithInput executes a command with data piped to stdin.
func (pm *DefaultProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), commandError(name, args, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// LookPath reports whether an executable is available on PATH.
func (pm *DefaultProcessManager) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// commandError builds a *util.CommandError from an exec failure.
func commandError(name string, args []string, stderr string, err error) error {
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	full := name
	if len(args) > 0 {
		full = fmt.Sprintf("%s %s", name, strings.Join(args, " "))
	}
	return util.NewCommandError(full, exitCode, stderr, err)
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "docker" && args[0] == "ps" {
//	            return []byte("anchorage-app\tUp 2 hours\n"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInputFunc is called when RunWithInput is invoked
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// LookPathFunc is called when LookPath is invoked.
	// When nil, LookPath reports every tool as available.
	LookPathFunc func(name string) bool

	// Calls records all method invocations for verification
	Calls []ProcessManagerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ProcessManagerCall records a single method invocation.
type ProcessManagerCall struct {
	Method string
	Name   string
	Args   []string
	Input  []byte
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "Run",
		Name:   name,
		Args:   args,
	})
	m.mu.Unlock()
	if m.RunFunc == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput delegates to RunWithInputFunc and records the call.
func (m *MockProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "RunWithInput",
		Name:   name,
		Args:   args,
		Input:  input,
	})
	m.mu.Unlock()
	if m.RunWithInputFunc == nil {
		panic("MockProcessManager.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockProcessManager) LookPath(name string) bool {
	m.mu.Lock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "LookPath",
		Name:   name,
	})
	m.mu.Unlock()
	if m.LookPathFunc == nil {
		return true
	}
	return m.LookPathFunc(name)
}

// Reset clears all recorded calls.
func (m *MockProcessManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []ProcessManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ProcessManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
