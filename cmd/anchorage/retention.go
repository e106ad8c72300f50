// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import "fmt"

// Prune deletes all but the newest retainCount backups.
//
// # Description
//
// Idempotent: pruning an already-pruned root does nothing. Deletion
// failures are collected rather than aborting, so one stuck file does
// not stop the rest of the sweep.
//
// # Outputs
//
//   - []string: IDs of the backups that were removed
//   - error: Non-nil when listing failed or any deletion failed
func (b *BackupManager) Prune(retainCount int) ([]string, error) {
	if retainCount < 1 {
		return nil, fmt.Errorf("retain count must be at least 1, got %d", retainCount)
	}

	manifests, err := b.List()
	if err != nil {
		return nil, err
	}
	if len(manifests) <= retainCount {
		return nil, nil
	}

	var removed []string
	var failures []string
	for _, m := range manifests[retainCount:] {
		if err := b.Delete(m.BackupID); err != nil {
			b.log.Warn("prune could not remove backup", "backup_id", m.BackupID, "error", err)
			failures = append(failures, m.BackupID)
			continue
		}
		removed = append(removed, m.BackupID)
	}

	if len(failures) > 0 {
		return removed, fmt.Errorf("failed to prune %d backups: %v", len(failures), failures)
	}
	if len(removed) > 0 {
		b.log.Info("pruned old backups", "removed", len(removed), "retained", retainCount)
	}
	return removed, nil
}
