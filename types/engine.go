package types

import (
	"context"
	"time"
)

// FailurePolicy decides how far a run proceeds after a task fails.
type FailurePolicy int32

const (
	// FailFast stops dispatching new non-finalizer work on the first
	// failure. Tasks already executing finish; finalizers still run.
	FailFast FailurePolicy = 0
	// ContinueOnFailure aborts only the dependents of a failed task;
	// independent subgraphs run to completion.
	ContinueOnFailure FailurePolicy = 1
)

func (p FailurePolicy) String() string {
	if p == ContinueOnFailure {
		return "continue"
	}
	return "fail-fast"
}

// FailureKind distinguishes how a task ended up failed.
type FailureKind int32

const (
	FailureNone FailureKind = 0
	// TaskFailed means the action reported a failed outcome.
	TaskFailed FailureKind = 1
	// ExecutionFault means the action itself misbehaved (panicked) outside
	// the task-failure protocol. Propagates like a failure, reported apart.
	ExecutionFault FailureKind = 2
	// UpstreamFailed means a dependency failed, so the task never ran.
	UpstreamFailed FailureKind = 3
	// RunAborted means the task was abandoned by a fail-fast stop or an
	// external cancellation before it became eligible.
	RunAborted FailureKind = 4
)

func (k FailureKind) String() string {
	switch k {
	case TaskFailed:
		return "task_failed"
	case ExecutionFault:
		return "execution_fault"
	case UpstreamFailed:
		return "upstream_failed"
	case RunAborted:
		return "run_aborted"
	}
	return "none"
}

// NodeFailure is one entry of the final failure report.
type NodeFailure struct {
	Path  string
	Kind  FailureKind
	Cause string
}

// TaskRunRecord is the persisted trace of one task within one run.
type TaskRunRecord struct {
	Path       string
	State      string
	Kind       FailureKind `json:",omitempty"`
	StartTime  time.Time
	EndTime    time.Time
	Error      string `json:",omitempty"`
	SkipReason string `json:",omitempty"`
	Output     Data   `json:",omitempty"`
}

// RunSummary is the final report of one run.
type RunSummary struct {
	RunID   string
	Plan    string
	Success bool

	Executed  []string      `json:",omitempty"`
	Skipped   []string      `json:",omitempty"`
	Abandoned []string      `json:",omitempty"`
	Failures  []NodeFailure `json:",omitempty"`

	StartTime time.Time
	EndTime   time.Time
}

// FirstFailure returns the failure that triggered a fail-fast stop, or nil.
func (s *RunSummary) FirstFailure() *NodeFailure {
	if len(s.Failures) == 0 {
		return nil
	}
	return &s.Failures[0]
}

type Engine interface {
	// RegisterPlan registers a named plan. The handler declares the tasks
	// and their relations through the Plan builder.
	RegisterPlan(name string, handler PlanHandler) error
	ListPlanNames() ([]string, error)
	/**
	 * RenderPlan returns the DOT string for the registered plan, edge
	 * styles distinguishing the four ordering relations. A cycle among
	 * dependency/must/finalizer edges is reported as a CycleError carrying
	 * the full cycle path.
	 */
	RenderPlan(name string) (string, error)

	/**
	 * Execute builds a fresh graph from the registered plan, marks the
	 * requested tasks (all tasks when requested is empty) and their
	 * transitive dependencies and finalizers required, then runs the graph
	 * to completion. The summary is returned and persisted under runID.
	 * Execute returns an error only for configuration faults; task
	 * failures are reported through the summary.
	 */
	Execute(ctx context.Context, planName, runID string, requested []string, params Data) (*RunSummary, error)

	GetRunSummary(ctx context.Context, runID string) (*RunSummary, error)
	LoadRunRecords(ctx context.Context, runID string) (map[string]*TaskRunRecord, error)
	/**
	 * RenderRun returns the DOT string for a finished run, nodes colored
	 * by recorded outcome.
	 */
	RenderRun(ctx context.Context, runID string) (string, error)

	Close(ctx context.Context) error
}
