// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Package-level Variables
// =============================================================================

// envVarKeyPattern validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This follows POSIX naming conventions and prevents shell metacharacter
// injection attacks.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// EnvVar Type
// =============================================================================

// EnvVar represents a single environment variable.
//
// # Description
//
// A typed representation of an environment variable with validation
// and sensitivity marking for secure logging. Keys are validated
// against POSIX naming conventions. The installer uses EnvVar entries
// to render the generated .env file without leaking credentials into
// log output.
//
// # Thread Safety
//
// EnvVar is safe for concurrent reads. Do not modify after creation.
//
// # Example
//
//	ev := EnvVar{Key: "POSTGRES_PASSWORD", Value: "secret123", Sensitive: true}
//	fmt.Println(ev.Redacted()) // POSTGRES_PASSWORD=[REDACTED]
//
// # Limitations
//
//   - Value is not validated (can be empty or contain any characters)
//   - Key validation only happens when Validate() is called explicitly
type EnvVar struct {
	// Key is the environment variable name.
	// Must match pattern: ^[a-zA-Z_][a-zA-Z0-9_]*$
	Key string

	// Value is the environment variable value.
	// May be empty string (valid in POSIX).
	Value string

	// Sensitive indicates this value should be redacted in logs.
	Sensitive bool
}

// =============================================================================
// EnvVar Methods
// =============================================================================

// String returns the KEY=VALUE format.
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// Redacted returns the KEY=VALUE format with sensitive values masked.
//
// # Description
//
// Returns the same format as String, except the value is replaced with
// [REDACTED] when the variable is marked Sensitive. Use this form in
// log output and error messages.
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return e.Key + "=[REDACTED]"
	}
	return e.String()
}

// Validate checks the key against POSIX naming conventions.
//
// # Outputs
//
//   - error: Non-nil (wrapping ErrInvalidEnvVarKey) if the key is invalid
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// =============================================================================
// EnvVars Collection
// =============================================================================

// EnvVars is an ordered collection of environment variables.
//
// # Description
//
// Preserves insertion order so rendered .env files are deterministic
// and diffs stay stable across installs.
//
// # Thread Safety
//
// EnvVars is NOT safe for concurrent modification.
type EnvVars []EnvVar

// Validate checks every key in the collection.
//
// Returns the first validation failure encountered, or nil.
func (vars EnvVars) Validate() error {
	for _, v := range vars {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Render returns the collection as .env file content.
//
// # Description
//
// One KEY=VALUE per line in insertion order, with a trailing newline.
// Values are written verbatim; the caller is responsible for not
// including newlines in values.
func (vars EnvVars) Render() string {
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// RedactedStrings returns the log-safe form of every variable.
func (vars EnvVars) RedactedStrings() []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Redacted()
	}
	return out
}
