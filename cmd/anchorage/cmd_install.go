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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
	"github.com/anchorage-io/anchorage/pkg/logging"
)

// loadRuntime builds the config and logger every command starts from.
func loadRuntime() (config.Config, *logging.Logger, error) {
	path := flagConfigPath
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, nil, err
		}
		path = defaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  cfg.Log.Dir,
		Service: "anchorage",
		JSON:    flagJSONLogs || cfg.Log.JSON,
	})
	return cfg, log, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	var requested *InstallationMode
	if flagMode != "" {
		mode, err := ParseMode(flagMode)
		if err != nil {
			return err
		}
		requested = &mode
	}
	if flagYes && requested == nil {
		return errors.New("--yes needs an explicit --mode; it cannot pick one for you")
	}

	var prompter Prompter
	if flagYes {
		prompter = &ScriptedPrompter{Yes: true}
	} else {
		prompter = &InteractivePrompter{}
	}

	// An interrupt takes the same path as any failed step: completed
	// destructive work is rolled back before the process exits.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	installer := NewInstaller(cfg, NewDefaultProcessManager(), prompter, util.DefaultTimeouts(), log)
	installer.Force = flagForce

	// Before the interactive mode picker the operator must see what
	// detection actually found, not just the picker's one-line summary.
	reportShown := false
	if requested == nil {
		installer.OnReport = func(r ConflictReport) {
			if r.HasConflicts() || r.HasUncertainty() {
				fmt.Print(RenderConflictReport(r))
				reportShown = true
			}
		}
	}

	result, err := installer.Run(ctx, requested)

	if !reportShown && (result.Mode == ModeCheckOnly || (err != nil && result.Mode == 0)) {
		// Detection ran; show the operator what it found.
		fmt.Print(RenderConflictReport(result.Report))
	}
	if err != nil {
		return err
	}

	if result.Mode != ModeCheckOnly {
		fmt.Printf("Installation complete (%s).\n", result.Mode)
		if result.BackupID != "" {
			fmt.Printf("Pre-install snapshot: %s\n", result.BackupID)
		}
		for _, h := range result.Health {
			state := "healthy"
			if !h.Healthy() {
				state = fmt.Sprintf("unhealthy (%v)", h.Err)
			}
			fmt.Printf("  %-10s %s\n", h.Service, state)
		}
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Close()

	detector := NewConflictDetector(cfg, NewDefaultProcessManager(), util.DefaultTimeouts(), log)
	report, err := detector.DetectAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(RenderConflictReport(report))
	return nil
}
