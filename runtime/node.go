package runtime

import (
	"sort"

	"github.com/warriorguo/taskgraph/types"
)

/**
 * taskNode is the scheduling unit wrapping one task. It holds the execution
 * state and the four edge relations. Successor sets point at the nodes this
 * one waits for; predecessor sets exist only for backward walks. All state
 * mutation happens on the coordinating goroutine, never from workers.
 */
type taskNode struct {
	task      types.TaskRef
	action    types.Action
	resources []string

	// declared relations, linked into the graph once by processLinks
	declared              types.TaskOptions
	dependenciesProcessed bool

	state            types.ExecutionState
	taskFailure      error
	executionFailure error
	skipReason       string
	output           types.Data

	dependencyPredecessors nodeSet
	dependencySuccessors   nodeSet
	mustSuccessors         nodeSet
	shouldSuccessors       nodeSet
	finalizers             nodeSet
	finalizingSuccessors   nodeSet
}

func newTaskNode(task types.TaskRef, action types.Action, opts *types.TaskOptions) *taskNode {
	n := &taskNode{task: task, action: action, state: types.Unknown}
	if opts != nil {
		n.declared = *opts
		n.resources = opts.Resources
	}
	return n
}

func (n *taskNode) path() string {
	return n.task.Path
}

func (n *taskNode) String() string {
	return n.task.Path
}

/* classification, re-assignable until execution starts */

func (n *taskNode) require() {
	n.state = types.ShouldRun
}

func (n *taskNode) doNotRequire() {
	n.state = types.NotRequired
}

func (n *taskNode) mustNotRun() {
	n.state = types.MustNotRun
}

func (n *taskNode) enforceRun() error {
	switch n.state {
	case types.ShouldRun, types.MustNotRun, types.MustRun:
		n.state = types.MustRun
		return nil
	}
	return types.NewTransitionError(n.path(), n.state, "enforceRun")
}

/* execution transitions, strictly forward */

func (n *taskNode) startExecution() error {
	if !n.state.Ready() {
		return types.NewTransitionError(n.path(), n.state, "startExecution")
	}
	n.state = types.Executing
	return nil
}

func (n *taskNode) finishExecution() error {
	if n.state != types.Executing {
		return types.NewTransitionError(n.path(), n.state, "finishExecution")
	}
	n.state = types.Executed
	return nil
}

func (n *taskNode) skipExecution() error {
	if n.state != types.ShouldRun {
		return types.NewTransitionError(n.path(), n.state, "skipExecution")
	}
	n.state = types.Skipped
	return nil
}

func (n *taskNode) abortExecution() error {
	if !n.state.Ready() {
		return types.NewTransitionError(n.path(), n.state, "abortExecution")
	}
	n.state = types.Skipped
	return nil
}

func (n *taskNode) setExecutionFailure(err error) error {
	if n.state != types.Executing {
		return types.NewTransitionError(n.path(), n.state, "setExecutionFailure")
	}
	n.executionFailure = err
	return nil
}

func (n *taskNode) setTaskFailure(err error) {
	n.taskFailure = err
}

/* predicates */

func (n *taskNode) isReady() bool {
	return n.state.Ready()
}

func (n *taskNode) isComplete() bool {
	return n.state.Complete()
}

func (n *taskNode) isIncludeInGraph() bool {
	return n.state.IncludeInGraph()
}

func (n *taskNode) isFailed() bool {
	return n.taskFailure != nil || n.executionFailure != nil
}

func (n *taskNode) isSuccessful() bool {
	return (n.state == types.Executed && !n.isFailed()) ||
		n.state == types.NotRequired ||
		n.state == types.MustNotRun
}

// isFinalizer reports whether this node finalizes at least one other node.
// Finalizers are exempt from upstream-failure abortion and fail-fast stops.
func (n *taskNode) isFinalizer() bool {
	return n.finalizingSuccessors.size() > 0
}

// allDependenciesComplete gates dispatch timing: dependency, must-run-after
// and finalizing successors all have to be complete first.
func (n *taskNode) allDependenciesComplete() bool {
	for _, dep := range n.mustSuccessors.list() {
		if !dep.isComplete() {
			return false
		}
	}
	for _, dep := range n.dependencySuccessors.list() {
		if !dep.isComplete() {
			return false
		}
	}
	for _, dep := range n.finalizingSuccessors.list() {
		if !dep.isComplete() {
			return false
		}
	}
	return true
}

// allShouldDependenciesComplete is the advisory equivalent; only kept
// should-edges are consulted (validation drops cycle-closing ones, so
// waiting here can never deadlock).
func (n *taskNode) allShouldDependenciesComplete() bool {
	for _, dep := range n.shouldSuccessors.list() {
		if !dep.isComplete() {
			return false
		}
	}
	return true
}

// allDependenciesSuccessful gates eligibility to actually run: only
// ordinary dependency edges propagate failure.
func (n *taskNode) allDependenciesSuccessful() bool {
	for _, dep := range n.dependencySuccessors.list() {
		if !dep.isSuccessful() {
			return false
		}
	}
	return true
}

// firstFailedDependency returns the unsuccessful dependency that blocks
// this node, for upstream-failure diagnostics.
func (n *taskNode) firstFailedDependency() *taskNode {
	for _, dep := range n.dependencySuccessors.list() {
		if !dep.isSuccessful() {
			return dep
		}
	}
	return nil
}

/* edges; symmetric bookkeeping happens here, never in callers */

func (n *taskNode) addDependencySuccessor(to *taskNode) {
	n.dependencySuccessors.add(to)
	to.dependencyPredecessors.add(n)
}

func (n *taskNode) addMustSuccessor(to *taskNode) {
	n.mustSuccessors.add(to)
}

func (n *taskNode) addShouldSuccessor(to *taskNode) {
	n.shouldSuccessors.add(to)
}

func (n *taskNode) removeShouldSuccessor(to *taskNode) {
	n.shouldSuccessors.remove(to)
}

func (n *taskNode) addFinalizer(finalizer *taskNode) {
	n.finalizers.add(finalizer)
	finalizer.finalizingSuccessors.add(n)
}

/**
 * nodeSet keeps nodes ordered by task path. Iteration order is therefore
 * deterministic across runs regardless of insertion order.
 */
type nodeSet struct {
	nodes []*taskNode
}

func (s *nodeSet) search(path string) int {
	return sort.Search(len(s.nodes), func(i int) bool {
		return s.nodes[i].path() >= path
	})
}

func (s *nodeSet) add(n *taskNode) bool {
	i := s.search(n.path())
	if i < len(s.nodes) && s.nodes[i].path() == n.path() {
		return false
	}
	s.nodes = append(s.nodes, nil)
	copy(s.nodes[i+1:], s.nodes[i:])
	s.nodes[i] = n
	return true
}

func (s *nodeSet) remove(n *taskNode) {
	i := s.search(n.path())
	if i < len(s.nodes) && s.nodes[i].path() == n.path() {
		s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
	}
}

func (s *nodeSet) contains(n *taskNode) bool {
	i := s.search(n.path())
	return i < len(s.nodes) && s.nodes[i].path() == n.path()
}

func (s *nodeSet) size() int {
	return len(s.nodes)
}

func (s *nodeSet) list() []*taskNode {
	return s.nodes
}
