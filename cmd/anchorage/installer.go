// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
	"github.com/anchorage-io/anchorage/pkg/logging"
)

// =============================================================================
// Modes and Phases
// =============================================================================

// InstallationMode selects how the installer treats existing state.
type InstallationMode int

const (
	// ModeFresh installs onto a host with no prior installation. Any
	// conflict, including an undeterminable one, aborts.
	ModeFresh InstallationMode = iota + 1

	// ModeSafeUpgrade backs up, replaces the stack, and preserves data
	// and credentials.
	ModeSafeUpgrade

	// ModeForceClean backs up, then wipes every trace of the prior
	// installation before installing from scratch.
	ModeForceClean

	// ModeCheckOnly reports conflicts and changes nothing.
	ModeCheckOnly
)

// String returns the CLI spelling of the mode.
func (m InstallationMode) String() string {
	switch m {
	case ModeFresh:
		return "fresh"
	case ModeSafeUpgrade:
		return "safe-upgrade"
	case ModeForceClean:
		return "force-clean"
	case ModeCheckOnly:
		return "check-only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a CLI flag value into a mode.
func ParseMode(s string) (InstallationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fresh":
		return ModeFresh, nil
	case "safe-upgrade":
		return ModeSafeUpgrade, nil
	case "force-clean":
		return ModeForceClean, nil
	case "check-only":
		return ModeCheckOnly, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want fresh, safe-upgrade, force-clean, or check-only)", s)
	}
}

// destructive is true for modes that modify the host.
func (m InstallationMode) destructive() bool {
	return m == ModeSafeUpgrade || m == ModeForceClean
}

// InstallPhase tracks installer progress for failure reporting.
//
// Most phases mark a completed checkpoint. PhaseVerifying is the one
// in-progress phase: it covers the health-check window between
// mutation and done, so a verification failure reports as
// "verification" rather than as the checkpoint before or after it.
type InstallPhase int

const (
	PhaseStart InstallPhase = iota
	PhaseModeSelected
	PhaseBackedUp
	PhaseShutdownComplete
	PhaseMutationComplete
	PhaseVerifying
	PhaseDone
	PhaseRollingBack
	PhaseFailed
)

// String names the phase for logs and error messages.
func (p InstallPhase) String() string {
	switch p {
	case PhaseStart:
		return "conflict detection"
	case PhaseModeSelected:
		return "mode selection"
	case PhaseBackedUp:
		return "backup"
	case PhaseShutdownComplete:
		return "shutdown"
	case PhaseMutationComplete:
		return "mutation"
	case PhaseVerifying:
		return "verification"
	case PhaseDone:
		return "done"
	case PhaseRollingBack:
		return "rollback"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// =============================================================================
// Installer
// =============================================================================

// InstallResult summarizes a completed (or check-only) run.
type InstallResult struct {
	Mode     InstallationMode
	Report   ConflictReport
	BackupID string
	Health   []ServiceHealth
	Pruned   []string
}

// installState is the bookkeeping record left in the install dir.
type installState struct {
	InstalledAt time.Time `yaml:"installed_at"`
	Mode        string    `yaml:"mode"`
	BackupID    string    `yaml:"backup_id,omitempty"`
}

// Installer coordinates detection, backup, mutation, and verification.
//
// # Description
//
// One Installer performs one run. The selected mode lives on the
// struct, never in a package global, so concurrent runs in tests cannot
// leak mode into each other. All destructive work happens inside a saga
// whose unwind restores the pre-run snapshot; interruption by signal is
// just another saga failure and takes the same path.
//
// # Thread Safety
//
// Not safe for concurrent use; create one Installer per run.
type Installer struct {
	cfg      config.Config
	proc     ProcessManager
	detector *ConflictDetector
	backups  *BackupManager
	docker   *DockerClient
	health   *HealthChecker
	prompter Prompter
	log      *logging.Logger

	// Force downgrades the fresh-mode clean-host requirement from
	// fatal to a warning: detection findings are logged and the
	// install proceeds anyway. Set by the --force flag.
	Force bool

	// OnReport, when set, receives the detection report before mode
	// selection. The CLI uses it to show the operator what detection
	// found before any prompt appears.
	OnReport func(ConflictReport)

	mode       InstallationMode
	phase      InstallPhase
	rollbackID string
}

// NewInstaller wires an installer for one run.
func NewInstaller(cfg config.Config, proc ProcessManager, prompter Prompter, timeouts util.TimeoutConfig, log *logging.Logger) *Installer {
	if log == nil {
		log = logging.Default()
	}
	return &Installer{
		cfg:      cfg,
		proc:     proc,
		detector: NewConflictDetector(cfg, proc, timeouts, log),
		backups:  NewBackupManager(cfg, log),
		docker:   NewDockerClient(proc, timeouts),
		health:   NewHealthChecker(cfg, proc, timeouts, log),
		prompter: prompter,
		log:      log,
		phase:    PhaseStart,
	}
}

// Phase reports the installer's current phase.
func (i *Installer) Phase() InstallPhase {
	return i.phase
}

// Run performs the installation.
//
// # Inputs
//
//   - ctx: Cancellation triggers rollback of completed destructive
//     steps before Run returns
//   - requested: The mode from --mode, or nil to ask the prompter
//
// # Outputs
//
//   - InstallResult: Populated as far as the run got
//   - error: An *InstallFailure for post-detection failures, carrying
//     both the cause and the rollback outcome
func (i *Installer) Run(ctx context.Context, requested *InstallationMode) (InstallResult, error) {
	var result InstallResult

	i.log.Info("starting conflict detection", "install_dir", i.cfg.InstallDir)
	report, err := i.detector.DetectAll(ctx)
	if err != nil {
		return result, err
	}
	result.Report = report
	if i.OnReport != nil {
		i.OnReport(report)
	}

	mode, err := i.selectMode(ctx, report, requested)
	if err != nil {
		return result, err
	}
	i.mode = mode
	i.phase = PhaseModeSelected
	result.Mode = mode
	i.log.Info("mode selected", "mode", mode.String())

	if mode == ModeCheckOnly {
		i.phase = PhaseDone
		return result, nil
	}

	if mode.destructive() {
		ok, err := i.prompter.Confirm(ctx, confirmQuestion(mode, report))
		if err != nil {
			return result, err
		}
		if !ok {
			return result, fmt.Errorf("%w: operator declined %s", ErrPromptAborted, mode)
		}
	}

	saga := i.buildSaga(&result)
	if sagaResult := saga.Run(ctx); sagaResult != nil {
		i.phase = PhaseRollingBack
		failure := &InstallFailure{
			Cause: sagaResult.Err,
			Phase: phaseOfStep(sagaResult.FailedStep),
		}
		if compErr := sagaResult.CompensationErr(); compErr != nil {
			failure.RollbackErr = fmt.Errorf("%w: %v", ErrRestoreFailed, compErr)
		} else {
			failure.RolledBack = len(sagaResult.Compensated) > 0
		}
		i.phase = PhaseFailed
		return result, failure
	}

	i.phase = PhaseDone
	i.finishRun(&result)
	return result, nil
}

// selectMode resolves the mode and enforces its preconditions.
func (i *Installer) selectMode(ctx context.Context, report ConflictReport, requested *InstallationMode) (InstallationMode, error) {
	var mode InstallationMode
	if requested != nil {
		mode = *requested
	} else {
		selected, err := i.prompter.SelectMode(ctx, report)
		if err != nil {
			return 0, err
		}
		mode = selected
	}

	if mode == ModeFresh {
		// Fresh trusts nothing it cannot verify: an unknown blocks
		// exactly like a definite conflict. Force overrides both,
		// putting the risk on the operator who asked for it.
		if report.HasConflicts() {
			if !i.Force {
				return 0, fmt.Errorf("%w: fresh install requires a clean host (use --force to override)", ErrConflictsFound)
			}
			i.log.Warn("conflicts detected, proceeding under --force")
		}
		if report.HasUncertainty() {
			if !i.Force {
				return 0, fmt.Errorf("%w: cannot verify the host is clean (missing tools: %v)",
					ErrDetectionUncertain, report.Uncertain)
			}
			i.log.Warn("host cleanliness unverified, proceeding under --force", "uncertain", report.Uncertain)
		}
	}
	return mode, nil
}

func confirmQuestion(mode InstallationMode, report ConflictReport) string {
	if mode == ModeForceClean {
		return fmt.Sprintf("Force clean will DELETE the installation at the configured install dir, "+
			"including service data, after taking a backup. %d conflicts were found. Proceed?",
			len(report.Containers)+len(report.Directories))
	}
	return "Safe upgrade will stop the running stack and replace it, preserving data. Proceed?"
}

// =============================================================================
// Saga Construction
// =============================================================================

func phaseOfStep(step string) InstallPhase {
	switch step {
	case "backup":
		return PhaseBackedUp
	case "shutdown":
		return PhaseShutdownComplete
	case "mutate":
		return PhaseMutationComplete
	case "verify":
		return PhaseVerifying
	default:
		return PhaseFailed
	}
}

// buildSaga assembles the destructive steps for the selected mode.
//
// The rollback story differs by mode. Fresh has no prior state, so its
// unwind just tears down whatever was created. Upgrade modes take a
// snapshot first; the unwind tears down the half-built stack, restores
// the snapshot, and tries to restart what was there before. The
// restore hangs off the backup step, not the shutdown step: a saga
// only compensates completed steps, and a failure mid-shutdown must
// still roll back to the snapshot.
func (i *Installer) buildSaga(result *InstallResult) *Saga {
	saga := NewSaga("install", i.log)

	if i.mode.destructive() {
		saga.AddStep(SagaStep{
			Name: "backup",
			Execute: func(ctx context.Context) error {
				manifest, err := i.backups.Create(ctx)
				if err != nil {
					return err
				}
				i.rollbackID = manifest.BackupID
				result.BackupID = manifest.BackupID
				i.phase = PhaseBackedUp
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return i.restoreFromBackup(ctx)
			},
		})
		saga.AddStep(SagaStep{
			Name: "shutdown",
			Execute: func(ctx context.Context) error {
				if err := i.shutdownExistingStack(ctx); err != nil {
					return err
				}
				i.phase = PhaseShutdownComplete
				return nil
			},
		})
	}

	saga.AddStep(SagaStep{
		Name: "mutate",
		Execute: func(ctx context.Context) error {
			if err := i.mutate(ctx); err != nil {
				i.cleanupFailedMutation()
				return fmt.Errorf("%w: %v", ErrMutationFailed, err)
			}
			i.phase = PhaseMutationComplete
			return nil
		},
		Compensate: i.freshCompensation(),
	})

	saga.AddStep(SagaStep{
		Name: "verify",
		Execute: func(ctx context.Context) error {
			i.phase = PhaseVerifying
			health, err := i.health.VerifyStack(ctx)
			result.Health = health
			return err
		},
	})

	return saga
}

// freshCompensation tears down a failed fresh install. Upgrade modes
// get nil here: their backup compensation already performs the full
// teardown-and-restore, and running both would tear down twice.
func (i *Installer) freshCompensation() func(ctx context.Context) error {
	if i.mode != ModeFresh {
		return nil
	}
	return func(ctx context.Context) error {
		return i.teardownStack(ctx, true)
	}
}

// cleanupFailedMutation removes whatever a failed fresh mutation left
// behind, so a host that was clean before the run is clean after it.
// Upgrade modes skip this: their unwind restores the snapshot, which
// already discards the partial mutation. Runs on a detached context
// because the failure being cleaned up may itself be a cancellation.
func (i *Installer) cleanupFailedMutation() {
	if i.mode != ModeFresh {
		return
	}
	if err := i.teardownStack(context.Background(), true); err != nil {
		i.log.Warn("cleanup after failed install incomplete", "error", err)
	}
}

// =============================================================================
// Step Implementations
// =============================================================================

// shutdownExistingStack stops and removes the prior installation's
// containers and network. Tolerates partially-present stacks.
func (i *Installer) shutdownExistingStack(ctx context.Context) error {
	for _, name := range i.cfg.ContainerNames() {
		if err := i.docker.StopContainer(ctx, name); err != nil {
			return fmt.Errorf("stopping %s: %w", name, err)
		}
		if err := i.docker.RemoveContainer(ctx, name); err != nil {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	if err := i.docker.RemoveNetwork(ctx, i.cfg.Stack.NetworkName); err != nil {
		return fmt.Errorf("removing network: %w", err)
	}
	i.log.Info("existing stack shut down")
	return nil
}

// mutate applies the mode's changes and starts the new stack.
func (i *Installer) mutate(ctx context.Context) error {
	if err := i.prepareInstallDir(); err != nil {
		return err
	}

	// Safe upgrade keeps the credentials the running services already
	// know; everything else gets a fresh set.
	keepEnv := i.mode == ModeSafeUpgrade && fileExists(i.cfg.EnvFile())
	if !keepEnv {
		vars, err := generateStackEnv(i.cfg)
		if err != nil {
			return err
		}
		if err := writeEnvFile(i.cfg, vars); err != nil {
			return err
		}
		if err := writeCredentialFiles(i.cfg, vars); err != nil {
			return err
		}
	}

	if err := renderComposeFile(i.cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(i.cfg.DataDir(), 0o750); err != nil {
		return fmt.Errorf("cannot create data dir: %w", err)
	}

	if i.mode == ModeForceClean {
		if err := i.removeCronEntries(ctx); err != nil {
			// Stale cron entries do not block a working install.
			i.log.Warn("could not remove cron entries", "error", err)
		}
	}

	if err := i.docker.ComposeUp(ctx, i.cfg.ComposeFile(), i.cfg.Stack.ComposeProject); err != nil {
		return fmt.Errorf("starting stack: %w", err)
	}
	return nil
}

// prepareInstallDir brings the install dir to the state the mode wants.
func (i *Installer) prepareInstallDir() error {
	switch i.mode {
	case ModeForceClean:
		if err := os.RemoveAll(i.cfg.InstallDir); err != nil {
			return fmt.Errorf("cannot wipe install dir: %w", err)
		}
	case ModeSafeUpgrade:
		// Replace the stack definition, keep data and credentials.
		for _, name := range []string{"docker-compose.yaml", "config"} {
			if err := os.RemoveAll(filepath.Join(i.cfg.InstallDir, name)); err != nil {
				return fmt.Errorf("cannot clear %s: %w", name, err)
			}
		}
	}
	if err := os.MkdirAll(i.cfg.InstallDir, 0o750); err != nil {
		return fmt.Errorf("cannot create install dir: %w", err)
	}
	return nil
}

// teardownStack removes the new stack; removeDir also wipes the dir.
func (i *Installer) teardownStack(ctx context.Context, removeDir bool) error {
	if fileExists(i.cfg.ComposeFile()) {
		if err := i.docker.ComposeDown(ctx, i.cfg.ComposeFile(), i.cfg.Stack.ComposeProject); err != nil {
			return err
		}
	}
	if removeDir {
		if err := os.RemoveAll(i.cfg.InstallDir); err != nil {
			return err
		}
	}
	return nil
}

// restoreFromBackup is the upgrade-mode rollback: tear down whatever
// the failed run built, put the snapshot back, and try to restart the
// restored stack.
func (i *Installer) restoreFromBackup(ctx context.Context) error {
	if i.rollbackID == "" {
		return fmt.Errorf("%w: no rollback point recorded", ErrRestoreFailed)
	}
	i.log.Warn("rolling back to snapshot", "backup_id", i.rollbackID)

	if err := i.teardownStack(ctx, true); err != nil {
		// Keep going: a restore over a half-torn-down dir is still
		// better than no restore.
		i.log.Warn("teardown before restore incomplete", "error", err)
	}
	if err := i.backups.Restore(ctx, i.rollbackID, i.cfg.InstallDir); err != nil {
		return err
	}

	// Best effort. The snapshot may predate compose entirely.
	if fileExists(i.cfg.ComposeFile()) {
		if err := i.docker.ComposeUp(ctx, i.cfg.ComposeFile(), i.cfg.Stack.ComposeProject); err != nil {
			i.log.Warn("restored stack did not restart", "error", err)
		}
	}
	return nil
}

// removeCronEntries strips our maintenance lines from the crontab.
func (i *Installer) removeCronEntries(ctx context.Context) error {
	out, err := i.proc.Run(ctx, "crontab", "-l")
	if err != nil {
		var cmdErr *util.CommandError
		if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "no crontab") {
			return nil
		}
		return err
	}

	var kept []string
	removed := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, i.cfg.Cron.Signature) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return nil
	}

	input := strings.TrimRight(strings.Join(kept, "\n"), "\n") + "\n"
	if _, err := i.proc.RunWithInput(ctx, "crontab", []byte(input), "-"); err != nil {
		return err
	}
	i.log.Info("removed cron entries", "count", removed)
	return nil
}

// finishRun writes bookkeeping and prunes old backups after success.
func (i *Installer) finishRun(result *InstallResult) {
	state := installState{
		InstalledAt: time.Now().UTC(),
		Mode:        i.mode.String(),
		BackupID:    i.rollbackID,
	}
	if data, err := yaml.Marshal(state); err == nil {
		if err := os.WriteFile(InstallStatePath(i.cfg.InstallDir), data, 0o640); err != nil {
			i.log.Warn("could not write state file", "error", err)
		}
	}

	// The pre-run snapshot stops being a rollback point the moment the
	// new install is verified; from here it is ordinary history and
	// competes for retention slots like any other backup.
	i.rollbackID = ""
	if i.mode.destructive() {
		pruned, err := i.backups.Prune(i.cfg.Backup.RetainCount)
		if err != nil {
			i.log.Warn("backup pruning incomplete", "error", err)
		}
		result.Pruned = pruned
	}

	i.log.Info("installation complete", "mode", i.mode.String())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
