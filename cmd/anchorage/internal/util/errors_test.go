// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"errors"
	"testing"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  &CommandError{Command: "docker stop app", ExitCode: 1, Stderr: "no such container"},
			want: "docker stop app (exit 1): no such container",
		},
		{
			name: "with wrapped error only",
			err:  &CommandError{Command: "ss -ltn", ExitCode: -1, Wrapped: errors.New("executable not found")},
			want: "ss -ltn (exit -1): executable not found",
		},
		{
			name: "bare exit code",
			err:  &CommandError{Command: "crontab -l", ExitCode: 2},
			want: "crontab -l (exit 2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	original := errors.New("connection refused")
	cmdErr := NewCommandError("docker ps", 1, "", original)

	if !errors.Is(cmdErr, original) {
		t.Error("errors.Is should find the wrapped error")
	}

	var target *CommandError
	if !errors.As(error(cmdErr), &target) {
		t.Error("errors.As should match *CommandError")
	}
}

func TestNewCommandError_TrimsStderr(t *testing.T) {
	err := NewCommandError("docker network rm net", 1, "  already in use\n\n", nil)
	if err.Stderr != "already in use" {
		t.Errorf("Stderr = %q, want trimmed", err.Stderr)
	}
	if !err.HasStderr() {
		t.Error("HasStderr should be true")
	}
}

func TestCommandError_HasStderr_Empty(t *testing.T) {
	err := NewCommandError("docker ps", 0, "", nil)
	if err.HasStderr() {
		t.Error("HasStderr should be false for empty stderr")
	}
}
