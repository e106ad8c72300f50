// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runBackupCreate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	manifest, err := NewBackupManager(cfg, log).Create(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Created backup %s (%d paths, %s)\n",
		manifest.BackupID, len(manifest.Included), humanBytes(manifest.ArchiveBytes))
	for _, skipped := range manifest.Skipped {
		fmt.Printf("  skipped %s (not present)\n", skipped)
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	manifests, err := NewBackupManager(cfg, log).List()
	if err != nil {
		return err
	}
	fmt.Print(RenderBackupList(manifests))
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	target := flagRestoreTarget
	if target == "" {
		target = cfg.InstallDir
	}
	if err := NewBackupManager(cfg, log).Restore(cmd.Context(), args[0], target); err != nil {
		return err
	}
	fmt.Printf("Restored %s into %s\n", args[0], target)
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	retain := flagRetain
	if retain == 0 {
		retain = cfg.Backup.RetainCount
	}
	removed, err := NewBackupManager(cfg, log).Prune(retain)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Printf("Nothing to prune (retaining %d).\n", retain)
		return nil
	}
	for _, id := range removed {
		fmt.Printf("Removed %s\n", id)
	}
	return nil
}
