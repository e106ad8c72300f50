// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"fmt"
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a command execution failure with stderr context.
//
// # Description
//
// Provides rich error context for command failures, including the
// command that failed, exit code, and stderr output. Implements
// the error interface and supports unwrapping via errors.Is/As.
//
// # Thread Safety
//
// CommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewCommandError("docker stop anchorage-app", 1, "no such container", originalErr)
//	fmt.Println(err.Error()) // "docker stop anchorage-app (exit 1): no such container"
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr) // "no such container"
//	}
//
// # Limitations
//
//   - Stderr is stored as a single string, not streaming
//   - Large stderr output consumes memory
type CommandError struct {
	// Command is the command that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the standard error output (trimmed).
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// =============================================================================
// CommandError Methods
// =============================================================================

// Error returns a formatted error message.
//
// # Description
//
// Returns a human-readable error message that includes the command,
// exit code, and stderr output if available. Stderr takes priority
// over wrapped error in the message format.
//
// # Outputs
//
//   - string: Formatted error message
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
//
// # Description
//
// Enables errors.Is() and errors.As() to work through the error chain.
// Returns nil if there is no wrapped error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr returns true if stderr output is available.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// Compile-time interface satisfaction checks
var _ error = (*CommandError)(nil)

// =============================================================================
// Constructor Functions
// =============================================================================

// NewCommandError creates a CommandError with full context.
//
// # Description
//
// Creates a new CommandError with command name, exit code, stderr,
// and underlying error. Stderr is trimmed of leading/trailing whitespace
// to normalize output from various command sources.
//
// # Inputs
//
//   - cmd: The command that was executed (e.g., "docker network rm anchorage-net")
//   - exitCode: Process exit code (-1 if unknown)
//   - stderr: Standard error output (will be trimmed)
//   - wrapped: Underlying error (may be nil)
//
// # Outputs
//
//   - *CommandError: New error with full context
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}
