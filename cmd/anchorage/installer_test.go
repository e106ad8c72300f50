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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// installEnv simulates the docker host an installer run mutates.
type installEnv struct {
	mu sync.Mutex

	cfg config.Config

	// preexistingPS is the `docker ps -a` output before our stack runs.
	preexistingPS string
	networkLS     string
	ssOut         map[int]string
	crontab       string
	crontabErr    error

	composeUpErr error
	stopErr      map[string]error
	stackUp      bool

	stopped   []string
	removed   []string
	upCalls   int
	downCalls int
	cronWrite string
}

func (e *installEnv) proc() *MockProcessManager {
	return &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			switch name {
			case "docker":
				return e.dockerCmd(args)
			case "ss":
				for port, out := range e.ssOut {
					if len(args) == 2 && strings.HasSuffix(args[1], ":"+strconv.Itoa(port)) {
						return []byte(out), nil
					}
				}
				return nil, nil
			case "crontab":
				return []byte(e.crontab), e.crontabErr
			}
			return nil, errors.New("unexpected command: " + name)
		},
		RunWithInputFunc: func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if name == "crontab" {
				e.cronWrite = string(input)
				return nil, nil
			}
			return nil, errors.New("unexpected stdin command: " + name)
		},
	}
}

func (e *installEnv) dockerCmd(args []string) ([]byte, error) {
	switch {
	case len(args) > 0 && args[0] == "ps":
		if e.stackUp {
			var lines []string
			for _, name := range e.cfg.ContainerNames() {
				lines = append(lines, name+"\tUp 5 seconds")
			}
			return []byte(strings.Join(lines, "\n")), nil
		}
		return []byte(e.preexistingPS), nil
	case len(args) > 1 && args[0] == "network" && args[1] == "ls":
		return []byte(e.networkLS), nil
	case len(args) > 1 && args[0] == "stop":
		if err := e.stopErr[args[1]]; err != nil {
			return nil, err
		}
		e.stopped = append(e.stopped, args[1])
		return nil, nil
	case len(args) > 1 && args[0] == "rm":
		e.removed = append(e.removed, args[1])
		return nil, nil
	case len(args) > 2 && args[0] == "network" && args[1] == "rm":
		return nil, nil
	case len(args) > 0 && args[0] == "compose":
		for _, a := range args {
			if a == "up" {
				e.upCalls++
				if e.composeUpErr != nil {
					return nil, e.composeUpErr
				}
				e.stackUp = true
				return nil, nil
			}
			if a == "down" {
				e.downCalls++
				e.stackUp = false
				return nil, nil
			}
		}
	}
	return nil, errors.New("unexpected docker args")
}

func newInstallEnv(t *testing.T) *installEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InstallDir = filepath.Join(t.TempDir(), "anchorage")
	cfg.BackupRoot = filepath.Join(t.TempDir(), "backups")
	return &installEnv{
		cfg:        cfg,
		crontabErr: util.NewCommandError("crontab -l", 1, "no crontab for root", nil),
	}
}

// newTestInstaller wires an installer against the fake host, with
// verification retry de-tuned for test speed.
func newTestInstaller(t *testing.T, env *installEnv, prompter Prompter) *Installer {
	t.Helper()
	inst := NewInstaller(env.cfg, env.proc(), prompter, util.DefaultTimeouts(), quietLogger())
	inst.health.attempts = 1
	inst.health.interval = 0
	inst.health.dial = func(ctx context.Context, addr string) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		if env.stackUp {
			return nil
		}
		return errors.New("connection refused")
	}
	return inst
}

func modePtr(m InstallationMode) *InstallationMode { return &m }

func TestRun_FreshInstallOnCleanHost(t *testing.T) {
	env := newInstallEnv(t)
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	result, err := inst.Run(context.Background(), modePtr(ModeFresh))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Mode != ModeFresh {
		t.Errorf("mode = %s, want fresh", result.Mode)
	}
	if result.BackupID != "" {
		t.Errorf("fresh install took a backup: %s", result.BackupID)
	}
	if env.upCalls != 1 {
		t.Errorf("compose up called %d times, want 1", env.upCalls)
	}
	if inst.Phase() != PhaseDone {
		t.Errorf("phase = %s, want done", inst.Phase())
	}

	// The install dir must now hold a complete deployment.
	for _, path := range []string{env.cfg.ComposeFile(), env.cfg.EnvFile(), InstallStatePath(env.cfg.InstallDir)} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing after install: %s", path)
		}
	}
	envContent, err := os.ReadFile(env.cfg.EnvFile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(envContent), "POSTGRES_PASSWORD=") {
		t.Error(".env missing generated credentials")
	}
	if _, err := os.Stat(filepath.Join(env.cfg.CredentialsDir(), "POSTGRES_PASSWORD")); err != nil {
		t.Errorf("credential file not written: %v", err)
	}
}

func TestRun_FreshRefusesConflictedHost(t *testing.T) {
	env := newInstallEnv(t)
	env.preexistingPS = "anchorage-postgres\tUp 3 days"
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	_, err := inst.Run(context.Background(), modePtr(ModeFresh))
	if !errors.Is(err, ErrConflictsFound) {
		t.Fatalf("err = %v, want ErrConflictsFound", err)
	}
	if env.upCalls != 0 {
		t.Error("fresh install mutated a conflicted host")
	}
	if _, statErr := os.Stat(env.cfg.InstallDir); statErr == nil {
		t.Error("install dir created despite refusal")
	}
}

func TestRun_FreshRefusesUncertainHost(t *testing.T) {
	env := newInstallEnv(t)
	// No port inspection tool answers.
	proc := env.proc()
	proc.LookPathFunc = func(name string) bool {
		return name != "ss" && name != "netstat" && name != "lsof"
	}
	inst := NewInstaller(env.cfg, proc, &ScriptedPrompter{Yes: true}, util.DefaultTimeouts(), quietLogger())

	_, err := inst.Run(context.Background(), modePtr(ModeFresh))
	if !errors.Is(err, ErrDetectionUncertain) {
		t.Fatalf("err = %v, want ErrDetectionUncertain", err)
	}
	if env.upCalls != 0 {
		t.Error("mutation ran although cleanliness could not be verified")
	}
}

func TestRun_CheckOnlyChangesNothing(t *testing.T) {
	env := newInstallEnv(t)
	env.preexistingPS = "anchorage-postgres\tUp 3 days"
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	result, err := inst.Run(context.Background(), modePtr(ModeCheckOnly))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Report.HasConflicts() {
		t.Error("check-only missed the running container")
	}
	if env.upCalls != 0 || len(env.stopped) != 0 {
		t.Error("check-only touched the host")
	}
	if _, statErr := os.Stat(env.cfg.BackupRoot); statErr == nil {
		t.Error("check-only created backups")
	}
}

// seedExistingInstall fakes the prior installation an upgrade replaces.
func seedExistingInstall(t *testing.T, cfg config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(cfg.DataDir(), "postgres"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.DataDir(), "postgres", "base.db"), []byte("precious"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.CredentialsDir(), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.EnvFile(), []byte("POSTGRES_PASSWORD=oldpass\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.ComposeFile(), []byte("services: {}\n"), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestRun_SafeUpgradePreservesDataAndCredentials(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	env.preexistingPS = "anchorage-postgres\tUp 3 days\nanchorage-redis\tUp 3 days"
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	result, err := inst.Run(context.Background(), modePtr(ModeSafeUpgrade))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BackupID == "" {
		t.Fatal("safe upgrade took no backup")
	}
	if len(env.stopped) == 0 {
		t.Error("old containers were not stopped")
	}
	if env.upCalls != 1 {
		t.Errorf("compose up called %d times, want 1", env.upCalls)
	}

	data, err := os.ReadFile(filepath.Join(env.cfg.DataDir(), "postgres", "base.db"))
	if err != nil || string(data) != "precious" {
		t.Errorf("service data not preserved: %q, %v", data, err)
	}
	envFile, err := os.ReadFile(env.cfg.EnvFile())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(envFile), "POSTGRES_PASSWORD=oldpass") {
		t.Error("safe upgrade regenerated credentials the services depend on")
	}
}

func TestRun_MutationFailureRollsBack(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	env.preexistingPS = "anchorage-postgres\tUp 3 days"
	env.composeUpErr = errors.New("port allocation failed")
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	_, err := inst.Run(context.Background(), modePtr(ModeSafeUpgrade))
	if err == nil {
		t.Fatal("Run succeeded although compose up failed")
	}

	var failure *InstallFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %T, want *InstallFailure", err)
	}
	if !errors.Is(failure.Cause, ErrMutationFailed) {
		t.Errorf("cause = %v, want ErrMutationFailed", failure.Cause)
	}
	if !failure.RolledBack {
		t.Errorf("rollback not reported: %+v", failure)
	}
	if failure.RollbackErr != nil {
		t.Errorf("rollback error: %v", failure.RollbackErr)
	}

	// The snapshot must be back in place.
	data, readErr := os.ReadFile(filepath.Join(env.cfg.DataDir(), "postgres", "base.db"))
	if readErr != nil || string(data) != "precious" {
		t.Errorf("data not restored: %q, %v", data, readErr)
	}
	envFile, readErr := os.ReadFile(env.cfg.EnvFile())
	if readErr != nil || !strings.Contains(string(envFile), "oldpass") {
		t.Error("credentials not restored")
	}
	if inst.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", inst.Phase())
	}
}

func TestRun_FailureReportsBothErrorsWhenRollbackAlsoFails(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	env.composeUpErr = errors.New("port allocation failed")
	// Sabotage rollback: the snapshot disappears before restore runs
	// (the moment mutation fails, i.e. at compose up).
	base := env.proc()
	sabotaged := &MockProcessManager{
		LookPathFunc: func(name string) bool { return true },
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "docker" && len(args) > 0 && args[0] == "compose" {
				for _, a := range args {
					if a == "up" {
						os.RemoveAll(env.cfg.BackupRoot)
					}
				}
			}
			return base.RunFunc(ctx, name, args...)
		},
		RunWithInputFunc: base.RunWithInputFunc,
	}
	inst := NewInstaller(env.cfg, sabotaged, &ScriptedPrompter{Yes: true}, util.DefaultTimeouts(), quietLogger())
	inst.health.attempts = 1
	inst.health.interval = 0

	_, err := inst.Run(context.Background(), modePtr(ModeSafeUpgrade))
	var failure *InstallFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %T (%v), want *InstallFailure", err, err)
	}
	if failure.RollbackErr == nil {
		t.Fatal("rollback failure not surfaced")
	}
	if !errors.Is(failure.RollbackErr, ErrRestoreFailed) {
		t.Errorf("rollback err = %v, want ErrRestoreFailed", failure.RollbackErr)
	}
	// Both facts must appear in the message the operator reads.
	msg := failure.Error()
	if !strings.Contains(msg, "rollback also failed") {
		t.Errorf("message conceals the rollback failure: %s", msg)
	}
}

func TestRun_ForceCleanWipesAndReinstalls(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	if err := os.WriteFile(filepath.Join(env.cfg.InstallDir, "stale.lock"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	env.preexistingPS = "anchorage-postgres\tExited (1) 2 weeks ago"
	env.crontab = "0 3 * * * /opt/anchorage/bin/anchorage-maintenance --prune\n0 4 * * * certbot renew\n"
	env.crontabErr = nil
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	result, err := inst.Run(context.Background(), modePtr(ModeForceClean))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BackupID == "" {
		t.Fatal("force clean took no backup before wiping")
	}
	if _, statErr := os.Stat(filepath.Join(env.cfg.InstallDir, "stale.lock")); statErr == nil {
		t.Error("wipe left prior files behind")
	}
	if _, statErr := os.Stat(env.cfg.EnvFile()); statErr != nil {
		t.Error("no fresh .env after reinstall")
	}

	// Our cron line is gone, the unrelated one survives.
	if !strings.Contains(env.cronWrite, "certbot") {
		t.Errorf("unrelated cron entry lost: %q", env.cronWrite)
	}
	if strings.Contains(env.cronWrite, "anchorage-maintenance") {
		t.Errorf("our cron entry survived the clean: %q", env.cronWrite)
	}
}

func TestRun_DeclinedConfirmationAborts(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: false})

	_, err := inst.Run(context.Background(), modePtr(ModeForceClean))
	if !errors.Is(err, ErrPromptAborted) {
		t.Fatalf("err = %v, want ErrPromptAborted", err)
	}
	if env.upCalls != 0 || len(env.stopped) != 0 {
		t.Error("declined run still mutated the host")
	}
	if _, statErr := os.Stat(env.cfg.BackupRoot); statErr == nil {
		t.Error("declined run still created a backup")
	}
}

func TestRun_SuccessPrunesOldBackups(t *testing.T) {
	env := newInstallEnv(t)
	env.cfg.Backup.RetainCount = 2
	seedExistingInstall(t, env.cfg)
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	// Pre-seed enough history that the run's own snapshot overflows it.
	bm := NewBackupManager(env.cfg, quietLogger())
	for i := 0; i < 2; i++ {
		if _, err := bm.Create(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	result, err := inst.Run(context.Background(), modePtr(ModeSafeUpgrade))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Pruned) == 0 {
		t.Error("retention did not prune overflow backups")
	}
	list, err := bm.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("%d backups retained, want 2", len(list))
	}
	// The run's own snapshot is the newest and must survive.
	if list[0].BackupID != result.BackupID {
		t.Errorf("newest survivor = %s, want this run's %s", list[0].BackupID, result.BackupID)
	}
}

func TestRun_CancelledMidMutationRollsBack(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	ctx, cancel := context.WithCancel(context.Background())

	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})
	// The interrupt lands while the old stack is being stopped.
	base := env.proc()
	interrupting := &MockProcessManager{
		LookPathFunc: func(name string) bool { return true },
		RunFunc: func(c context.Context, name string, args ...string) ([]byte, error) {
			if name == "docker" && len(args) > 0 && args[0] == "stop" {
				cancel()
			}
			return base.RunFunc(c, name, args...)
		},
		RunWithInputFunc: base.RunWithInputFunc,
	}
	inst = NewInstaller(env.cfg, interrupting, &ScriptedPrompter{Yes: true}, util.DefaultTimeouts(), quietLogger())
	inst.health.attempts = 1
	inst.health.interval = 0
	inst.health.dial = func(ctx context.Context, addr string) error { return nil }

	_, err := inst.Run(ctx, modePtr(ModeSafeUpgrade))
	var failure *InstallFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %T (%v), want *InstallFailure", err, err)
	}
	if !errors.Is(failure.Cause, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", failure.Cause)
	}
	// The snapshot still exists and the data came back.
	data, readErr := os.ReadFile(filepath.Join(env.cfg.DataDir(), "postgres", "base.db"))
	if readErr != nil || string(data) != "precious" {
		t.Errorf("data not restored after interrupt: %q, %v", data, readErr)
	}
}

func TestRun_ShutdownFailureRestoresSnapshot(t *testing.T) {
	env := newInstallEnv(t)
	seedExistingInstall(t, env.cfg)
	env.preexistingPS = "anchorage-postgres\tUp 3 days\nanchorage-redis\tUp 3 days"
	// The first container stops, the second refuses: the run dies in the
	// middle of shutting down the old stack.
	env.stopErr = map[string]error{"anchorage-redis": errors.New("cannot stop container")}
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	_, err := inst.Run(context.Background(), modePtr(ModeSafeUpgrade))
	var failure *InstallFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %T (%v), want *InstallFailure", err, err)
	}
	if !failure.RolledBack {
		t.Fatalf("no rollback after a mid-shutdown failure: %+v", failure)
	}
	if failure.RollbackErr != nil {
		t.Errorf("rollback error: %v", failure.RollbackErr)
	}
	if failure.Phase != PhaseShutdownComplete {
		t.Errorf("phase = %s, want shutdown", failure.Phase)
	}
	// The snapshot is back and a restart of the restored stack was tried.
	data, readErr := os.ReadFile(filepath.Join(env.cfg.DataDir(), "postgres", "base.db"))
	if readErr != nil || string(data) != "precious" {
		t.Errorf("data not restored: %q, %v", data, readErr)
	}
	if env.upCalls == 0 {
		t.Error("restored stack was never restarted")
	}
}

func TestRun_FreshMutationFailureLeavesNoTrace(t *testing.T) {
	env := newInstallEnv(t)
	env.composeUpErr = errors.New("port allocation failed")
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	_, err := inst.Run(context.Background(), modePtr(ModeFresh))
	if err == nil {
		t.Fatal("Run succeeded although compose up failed")
	}
	if !errors.Is(err, ErrMutationFailed) {
		t.Fatalf("err = %v, want ErrMutationFailed", err)
	}

	// The host was clean before the run; it must be clean after it.
	if _, statErr := os.Stat(env.cfg.InstallDir); statErr == nil {
		leftovers, _ := os.ReadDir(env.cfg.InstallDir)
		var names []string
		for _, e := range leftovers {
			names = append(names, e.Name())
		}
		t.Errorf("failed fresh install left the install dir behind: %v", names)
	}
	if env.downCalls == 0 {
		t.Error("half-started stack was never torn down")
	}
}

func TestRun_ForceOverridesFreshPreconditions(t *testing.T) {
	env := newInstallEnv(t)
	if err := os.MkdirAll(env.cfg.InstallDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.InstallDir, "stale.lock"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	inst := newTestInstaller(t, env, &ScriptedPrompter{Yes: true})

	// Without the override the conflict is fatal.
	if _, err := inst.Run(context.Background(), modePtr(ModeFresh)); !errors.Is(err, ErrConflictsFound) {
		t.Fatalf("err = %v, want ErrConflictsFound", err)
	}

	inst = newTestInstaller(t, env, &ScriptedPrompter{Yes: true})
	inst.Force = true
	result, err := inst.Run(context.Background(), modePtr(ModeFresh))
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if result.Mode != ModeFresh {
		t.Errorf("mode = %s, want fresh", result.Mode)
	}
	if env.upCalls != 1 {
		t.Errorf("compose up called %d times, want 1", env.upCalls)
	}
}

// orderedPrompter records when it is consulted, relative to the
// installer's report hook.
type orderedPrompter struct {
	order *[]string
	mode  InstallationMode
}

func (p *orderedPrompter) SelectMode(ctx context.Context, report ConflictReport) (InstallationMode, error) {
	*p.order = append(*p.order, "select")
	return p.mode, nil
}

func (p *orderedPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	*p.order = append(*p.order, "confirm")
	return true, nil
}

func TestRun_ReportHookFiresBeforeModeSelection(t *testing.T) {
	env := newInstallEnv(t)
	env.preexistingPS = "anchorage-postgres\tUp 3 days"

	var order []string
	inst := newTestInstaller(t, env, &orderedPrompter{order: &order, mode: ModeCheckOnly})
	inst.OnReport = func(r ConflictReport) {
		order = append(order, "report")
		if !r.HasConflicts() {
			t.Error("hook received a report without the detected conflict")
		}
	}

	if _, err := inst.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "report" || order[1] != "select" {
		t.Errorf("order = %v, want the report delivered before mode selection", order)
	}
}
