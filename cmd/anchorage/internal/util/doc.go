// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the Anchorage CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages. All utilities depend only on the Go standard
// library, making this a leaf package in the dependency graph.
//
// # Overview
//
// The util package provides three categories of utilities:
//
//   - Timeout Management: Enforce minimum and default timeouts to prevent hangs
//   - Environment Variables: Type-safe environment variable handling with validation
//   - Command Errors: Rich error wrapping for command execution failures
//
// # Thread Safety
//
// All types in this package are safe for concurrent use from multiple
// goroutines unless their documentation explicitly states otherwise.
// Specifically:
//
//   - [CommandError] is immutable after creation
//   - [TimeoutConfig] is a value type; copies are independent
//   - [EnvVar] is safe for concurrent reads (do not modify after creation)
package util
