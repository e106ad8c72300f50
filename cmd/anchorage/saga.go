// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/anchorage-io/anchorage/pkg/logging"
)

// =============================================================================
// Saga
// =============================================================================

// SagaStep is one forward action with an optional undo.
type SagaStep struct {
	// Name identifies the step in logs and results.
	Name string

	// Execute performs the step.
	Execute func(ctx context.Context) error

	// Compensate undoes the step after a later step fails. Nil means
	// the step needs no undo (it was read-only or self-cleaning).
	Compensate func(ctx context.Context) error
}

// SagaResult describes a failed saga run: which step broke, and how the
// unwind of the already-completed steps went.
type SagaResult struct {
	// FailedStep is the step whose Execute returned the error.
	FailedStep string

	// Err is that error.
	Err error

	// Compensated lists steps whose undo ran cleanly, in unwind order.
	Compensated []string

	// CompensationErrs collects undo failures. Unwinding continues past
	// a failed compensation; skipping the rest would strand even more
	// state.
	CompensationErrs []error
}

// CompensationFailed is true when any undo step failed.
func (r *SagaResult) CompensationFailed() bool {
	return len(r.CompensationErrs) > 0
}

// CompensationErr flattens the undo failures into one error, nil when
// the unwind was clean.
func (r *SagaResult) CompensationErr() error {
	if len(r.CompensationErrs) == 0 {
		return nil
	}
	if len(r.CompensationErrs) == 1 {
		return r.CompensationErrs[0]
	}
	return fmt.Errorf("%d compensation failures, first: %w", len(r.CompensationErrs), r.CompensationErrs[0])
}

// Saga runs steps in order and unwinds completed steps on failure.
//
// # Description
//
// Execution stops at the first step error or context cancellation; the
// compensations of every completed step then run in reverse order.
// Compensation runs on a context detached from the caller's
// cancellation, because the most common reason to unwind is exactly
// that the caller's context died (operator hit Ctrl-C) and the undo
// must still complete.
type Saga struct {
	name  string
	steps []SagaStep
	log   *logging.Logger
}

// NewSaga creates a named saga.
func NewSaga(name string, log *logging.Logger) *Saga {
	if log == nil {
		log = logging.Default()
	}
	return &Saga{name: name, log: log}
}

// AddStep appends a step. Steps run in insertion order.
func (s *Saga) AddStep(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the saga. A nil result means every step succeeded.
func (s *Saga) Run(ctx context.Context) *SagaResult {
	var completed []SagaStep

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			s.log.Warn("saga interrupted", "saga", s.name, "before_step", step.Name, "error", err)
			return s.unwind(completed, step.Name, err)
		}

		s.log.Debug("saga step starting", "saga", s.name, "step", step.Name)
		if err := step.Execute(ctx); err != nil {
			s.log.Error("saga step failed", "saga", s.name, "step", step.Name, "error", err)
			return s.unwind(completed, step.Name, err)
		}
		completed = append(completed, step)
	}
	return nil
}

// unwind compensates completed steps in reverse order.
func (s *Saga) unwind(completed []SagaStep, failedStep string, cause error) *SagaResult {
	result := &SagaResult{FailedStep: failedStep, Err: cause}

	undoCtx := context.Background()
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		s.log.Info("compensating", "saga", s.name, "step", step.Name)
		if err := step.Compensate(undoCtx); err != nil {
			s.log.Error("compensation failed", "saga", s.name, "step", step.Name, "error", err)
			result.CompensationErrs = append(result.CompensationErrs,
				fmt.Errorf("compensating %s: %w", step.Name, err))
			continue
		}
		result.Compensated = append(result.Compensated, step.Name)
	}
	return result
}
