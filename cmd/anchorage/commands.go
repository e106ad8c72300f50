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

// Version is set at build time via -ldflags.
var Version = "dev"

// --- Global Flag Variables ---
var (
	flagConfigPath string
	flagLogLevel   string
	flagJSONLogs   bool

	flagMode  string
	flagYes   bool
	flagForce bool

	flagRestoreTarget string
	flagRetain        int

	rootCmd = &cobra.Command{
		Use:   "anchorage",
		Short: "Install and manage the Anchorage self-hosted stack",
		Long: `Anchorage deploys a multi-container application stack onto a single
host and keeps reinstallation and upgrades safe: it detects leftovers
from prior installations, snapshots anything it is about to destroy,
and rolls back automatically when an installation fails part way.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install or upgrade the stack on this host",
		Long: `Install inspects the host for a prior installation, picks (or asks for)
an installation mode, and applies it. Destructive modes snapshot the
existing installation first and restore it if anything fails.`,
		RunE: runInstall, // Defined in cmd_install.go
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report conflicts with a prior installation, change nothing",
		RunE:  runCheck, // Defined in cmd_install.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Manage installation snapshots",
	}
	backupCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Snapshot the current installation",
		RunE:  runBackupCreate, // Defined in cmd_backup.go
	}
	backupListCmd = &cobra.Command{
		Use:   "list",
		Short: "List available snapshots, newest first",
		RunE:  runBackupList, // Defined in cmd_backup.go
	}
	backupRestoreCmd = &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Restore a snapshot into the install directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRestore, // Defined in cmd_backup.go
	}
	backupPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		RunE:  runBackupPrune, // Defined in cmd_backup.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the anchorage version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("anchorage", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to anchorage.yaml (default ~/.anchorage/anchorage.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")

	installCmd.Flags().StringVar(&flagMode, "mode", "", "installation mode: fresh, safe-upgrade, force-clean, check-only (default: ask)")
	installCmd.Flags().BoolVar(&flagYes, "yes", false, "answer yes to confirmation prompts (requires --mode)")
	installCmd.Flags().BoolVar(&flagForce, "force", false, "proceed with a fresh install even when conflicts or uncertainty are detected")

	backupRestoreCmd.Flags().StringVar(&flagRestoreTarget, "target", "", "restore into this directory instead of the install dir")
	backupPruneCmd.Flags().IntVar(&flagRetain, "retain", 0, "snapshots to keep (default: configured retain_count)")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupPruneCmd)
	rootCmd.AddCommand(versionCmd)
}
