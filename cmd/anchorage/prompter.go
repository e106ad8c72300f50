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

	"github.com/charmbracelet/huh"
)

// Prompter asks the operator the two questions the installer ever has:
// which mode, and "are you sure" before destruction.
type Prompter interface {
	// SelectMode picks an installation mode given what detection found.
	SelectMode(ctx context.Context, report ConflictReport) (InstallationMode, error)

	// Confirm asks a yes/no question. The zero answer is no.
	Confirm(ctx context.Context, question string) (bool, error)
}

// ErrPromptAborted is returned when the operator backs out of a prompt.
var ErrPromptAborted = errors.New("prompt aborted")

// =============================================================================
// Interactive Prompter
// =============================================================================

// InteractivePrompter drives terminal forms.
type InteractivePrompter struct{}

// SelectMode shows a mode picker. Modes that make no sense for the
// current findings are annotated, not hidden; the operator may know
// better than the detector.
func (p *InteractivePrompter) SelectMode(ctx context.Context, report ConflictReport) (InstallationMode, error) {
	options := []huh.Option[InstallationMode]{
		huh.NewOption("Safe upgrade (backup, then replace stack, keep data)", ModeSafeUpgrade),
		huh.NewOption("Force clean (backup, then wipe everything and reinstall)", ModeForceClean),
		huh.NewOption("Fresh install (requires a clean host)", ModeFresh),
		huh.NewOption("Check only (report conflicts, change nothing)", ModeCheckOnly),
	}
	if !report.HasConflicts() {
		options = []huh.Option[InstallationMode]{
			huh.NewOption("Fresh install", ModeFresh),
			huh.NewOption("Check only (report and exit)", ModeCheckOnly),
		}
	}

	var mode InstallationMode
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[InstallationMode]().
			Title("How should Anchorage proceed?").
			Description(promptDescription(report)).
			Options(options...).
			Value(&mode),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return mode, ErrPromptAborted
		}
		return mode, fmt.Errorf("mode selection failed: %w", err)
	}
	return mode, nil
}

// Confirm shows a yes/no form defaulting to no.
func (p *InteractivePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Affirmative("Proceed").
			Negative("Abort").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrPromptAborted
		}
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return ok, nil
}

func promptDescription(report ConflictReport) string {
	switch {
	case report.HasConflicts() && report.HasUncertainty():
		return "An existing installation was found, and some checks could not complete."
	case report.HasConflicts():
		return "An existing installation was found on this host."
	case report.HasUncertainty():
		return "Some conflict checks could not complete; the host may not be clean."
	default:
		return "No existing installation was found."
	}
}

// =============================================================================
// Scripted Prompter
// =============================================================================

// ScriptedPrompter answers without a terminal, for --mode/--yes runs and
// for tests. A zero Mode with no conflicts selects fresh install.
type ScriptedPrompter struct {
	// Mode is returned by SelectMode when set.
	Mode InstallationMode

	// ModeSet distinguishes an explicit ModeFresh from an unset field.
	ModeSet bool

	// Yes is the answer to every Confirm call.
	Yes bool

	// Confirmations records the questions asked, for test assertions.
	Confirmations []string
}

func (p *ScriptedPrompter) SelectMode(ctx context.Context, report ConflictReport) (InstallationMode, error) {
	if p.ModeSet {
		return p.Mode, nil
	}
	if report.HasConflicts() || report.HasUncertainty() {
		return 0, fmt.Errorf("%w: conflicts present and no mode given", ErrPromptAborted)
	}
	return ModeFresh, nil
}

func (p *ScriptedPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.Confirmations = append(p.Confirmations, question)
	return p.Yes, nil
}

var (
	_ Prompter = (*InteractivePrompter)(nil)
	_ Prompter = (*ScriptedPrompter)(nil)
)
