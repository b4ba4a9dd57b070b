package types

// ExecutionState is the lifecycle state of a single task node. A node starts
// at Unknown and only ever moves forward: classification states first
// (NotRequired/ShouldRun/MustRun/MustNotRun, re-assignable until execution
// starts), then Executing, then exactly one of Executed or Skipped.
type ExecutionState int32

const (
	Unknown     ExecutionState = 0
	NotRequired ExecutionState = 1
	ShouldRun   ExecutionState = 2
	MustRun     ExecutionState = 3
	MustNotRun  ExecutionState = 4
	Executing   ExecutionState = 5
	Executed    ExecutionState = 6
	Skipped     ExecutionState = 7
)

func (s ExecutionState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case NotRequired:
		return "not_required"
	case ShouldRun:
		return "should_run"
	case MustRun:
		return "must_run"
	case MustNotRun:
		return "must_not_run"
	case Executing:
		return "executing"
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	}
	return "invalid"
}

// Ready reports whether a node in this state is eligible for dispatch once
// its predecessors allow it.
func (s ExecutionState) Ready() bool {
	return s == ShouldRun || s == MustRun
}

// Complete reports whether no further action is pending for this state.
func (s ExecutionState) Complete() bool {
	return s == Executed || s == Skipped ||
		s == Unknown || s == NotRequired || s == MustNotRun
}

// IncludeInGraph reports whether requirement propagation still needs to
// visit a node in this state.
func (s ExecutionState) IncludeInGraph() bool {
	return s == Unknown || s == NotRequired
}
