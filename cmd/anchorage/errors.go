// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the installer distinguishes.
// Callers match with errors.Is; the wrapped cause carries the detail.
var (
	// ErrDetectionUncertain means a conflict check could not complete
	// and the selected mode refuses to proceed on a maybe.
	ErrDetectionUncertain = errors.New("conflict detection uncertain")

	// ErrConflictsFound means detection found definite conflicts the
	// selected mode does not resolve.
	ErrConflictsFound = errors.New("conflicts detected")

	// ErrBackupFailed means the pre-mutation snapshot could not be
	// taken. Nothing was modified; there is no rollback to run.
	ErrBackupFailed = errors.New("backup failed")

	// ErrMutationFailed means a destructive step failed after the
	// rollback point was established.
	ErrMutationFailed = errors.New("installation mutation failed")

	// ErrRestoreFailed means rollback itself failed; the host may be in
	// a partial state and needs manual attention.
	ErrRestoreFailed = errors.New("restore from backup failed")

	// ErrVerificationFailed means the stack came up but did not pass
	// its health checks.
	ErrVerificationFailed = errors.New("post-install verification failed")
)

// InstallFailure reports a failed installation together with the outcome
// of the rollback it triggered. Both halves matter to the operator: what
// broke, and whether the host was put back.
type InstallFailure struct {
	// Cause is the original failure that aborted the installation.
	Cause error

	// Phase is the phase the installer was in when Cause occurred.
	Phase InstallPhase

	// RolledBack is true when compensation ran and fully succeeded.
	RolledBack bool

	// RollbackErr is non-nil when compensation was attempted and
	// failed. Nil with RolledBack false means no rollback was needed.
	RollbackErr error
}

// Error renders both the failure and the rollback outcome.
func (f *InstallFailure) Error() string {
	switch {
	case f.RollbackErr != nil:
		return fmt.Sprintf("installation failed during %s: %v (rollback also failed: %v)", f.Phase, f.Cause, f.RollbackErr)
	case f.RolledBack:
		return fmt.Sprintf("installation failed during %s: %v (system restored from backup)", f.Phase, f.Cause)
	default:
		return fmt.Sprintf("installation failed during %s: %v", f.Phase, f.Cause)
	}
}

// Unwrap exposes the original cause to errors.Is/As. The rollback error
// is deliberately not part of the chain; it is a second, parallel fact.
func (f *InstallFailure) Unwrap() error {
	return f.Cause
}
