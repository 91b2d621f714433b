package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/crateplan/pkg/core"
)

// Phase names a step of a planning run.
type Phase string

const (
	PhaseLockfileRead  Phase = "lockfile.read"
	PhaseResolve       Phase = "resolve"
	PhaseLocked        Phase = "locked"
	PhasePolicy        Phase = "policy"
	PhaseLockfileWrite Phase = "lockfile.write"
	PhaseStd           Phase = "std"
	PhaseBuildUnits    Phase = "build_units"
)

// ErrorClass tells a caller whether rerunning can help.
type ErrorClass string

const (
	// ErrorClassTransient failures come from the outside world (an index
	// that could not be read, a cancelled context) and may pass on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict failures are unsatisfiable requirements. They pass
	// only after the workspace or the index changes.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent failures are invalid input.
	ErrorClassPermanent ErrorClass = "permanent"
)

// PlanError is a failed planning run. It keeps the run id and the phase and
// exposes the code of the underlying error.
type PlanError struct {
	RunID string     `json:"run_id"`
	Phase Phase      `json:"phase"`
	Class ErrorClass `json:"class"`
	Err   error      `json:"-"`
}

func newPlanError(runID string, phase Phase, err error) *PlanError {
	return &PlanError{RunID: runID, Phase: phase, Class: Classify(err), Err: err}
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PlanError) Unwrap() error { return e.Err }

// Code implements core.Coded.
func (e *PlanError) Code() core.ErrorCode { return core.CodeOf(e.Err) }

// Classify sorts an error into an ErrorClass.
func Classify(err error) ErrorClass {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}
	switch core.CodeOf(err) {
	case core.ErrCodeSource, core.ErrCodeResolutionLimit:
		return ErrorClassTransient
	case core.ErrCodeVersionConflict, core.ErrCodeLinksConflict, core.ErrCodeNoMatchingPackage,
		core.ErrCodeLockfileOutdated:
		return ErrorClassConflict
	default:
		return ErrorClassPermanent
	}
}

// IsRetryable reports whether a run failed with a transient error.
func IsRetryable(err error) bool {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return Classify(err) == ErrorClassTransient
}

// PhaseOf returns the phase a run failed in, or "" when err is not a
// PlanError.
func PhaseOf(err error) Phase {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Phase
	}
	return ""
}
