package types

import (
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &SkipError{}
	_ error = &CycleError{}
	_ error = &TransitionError{}
)

// NewSkipError builds the error an Action returns to report that its task
// was skipped (up-to-date, filtered out) rather than failed.
func NewSkipError(reason string) error {
	return &SkipError{baseError: newBaseErr(errors.Errorf("skipped: %s", reason)), Reason: reason}
}

// NewCycleError reports an ordering cycle among dependency, must-run-after
// and finalizer edges. path is the closed walk, first task repeated last.
func NewCycleError(path []string) error {
	return &CycleError{
		baseError: newBaseErr(errors.Errorf("ordering cycle: %s", strings.Join(path, " -> "))),
		Path:      path,
	}
}

// NewTransitionError reports an illegal state transition. This is a
// programming fault in the caller, never a recoverable task failure.
func NewTransitionError(task string, from ExecutionState, op string) error {
	return &TransitionError{
		baseError: newBaseErr(errors.Errorf("task %s: cannot %s from state %s", task, op, from)),
		Task:      task,
		From:      from,
		Op:        op,
	}
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

// SkipError is the action-level skip signal.
type SkipError struct {
	*baseError
	Reason string
}

// CycleError is the fatal configuration fault raised when graph validation
// finds a cycle. Path lists the task identities forming the cycle.
type CycleError struct {
	*baseError
	Path []string
}

// TransitionError is the fatal configuration fault raised on an illegal
// node state transition.
type TransitionError struct {
	*baseError
	Task string
	From ExecutionState
	Op   string
}

// AsSkip digs a SkipError out of an error chain, including juju trace
// wrappers.
func AsSkip(err error) (*SkipError, bool) {
	return digErr[*SkipError](err)
}

func AsCycle(err error) (*CycleError, bool) {
	return digErr[*CycleError](err)
}

func AsTransition(err error) (*TransitionError, bool) {
	return digErr[*TransitionError](err)
}

func digErr[T error](err error) (T, bool) {
	var zero T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		switch ue := err.(type) {
		case interface{ Unwrap() error }:
			err = ue.Unwrap()
		case interface{ Underlying() error }:
			err = ue.Underlying()
		default:
			return zero, false
		}
	}
	return zero, false
}
