package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskgraph/types"
	"github.com/warriorguo/taskgraph/utils"
)

type nodeResult struct {
	node    *taskNode
	started time.Time
	output  types.Data
	err     error
	fault   error
}

/**
 * scheduler drives one run of a validated, required-marked graph. The run
 * loop is the single writer of node state; actions execute on a bounded
 * worker pool and report back through doneCh only. With TaskRunAsync off
 * there is no pool and eligible tasks run inline, one by one, which keeps
 * tests deterministic.
 */
type scheduler struct {
	graph  *taskGraph
	rec    *runRecorder
	runID  string
	params types.Data

	policy     types.FailurePolicy
	async      bool
	maxWorkers int

	wp     *workerpool.WorkerPool
	doneCh chan *nodeResult

	executing     map[string]*taskNode
	busyResources map[string]string

	stopping  bool
	cancelled bool

	kinds     map[string]types.FailureKind
	failures  []types.NodeFailure
	abandoned []string
	skipped   []string
}

func newScheduler(g *taskGraph, rec *runRecorder, runID string, params types.Data, opts *types.EngineOptions) *scheduler {
	s := &scheduler{
		graph:         g,
		rec:           rec,
		runID:         runID,
		params:        params,
		policy:        opts.FailurePolicy,
		async:         opts.TaskRunAsync,
		maxWorkers:    opts.MaxWorkers,
		executing:     make(map[string]*taskNode),
		busyResources: make(map[string]string),
		kinds:         make(map[string]types.FailureKind),
	}
	if s.maxWorkers <= 0 {
		s.maxWorkers = 1
	}
	if s.async {
		s.wp = workerpool.New(s.maxWorkers)
		s.doneCh = make(chan *nodeResult, s.maxWorkers)
	}
	return s
}

func (s *scheduler) run(ctx context.Context) (*types.RunSummary, error) {
	summary := &types.RunSummary{
		RunID:     s.runID,
		Plan:      s.graph.plan,
		StartTime: time.Now(),
	}

	for !s.graph.allComplete() {
		progressed, err := s.dispatchReady(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(s.executing) > 0 {
			if err := s.waitForResult(ctx); err != nil {
				return nil, errors.Trace(err)
			}
			continue
		}
		if !progressed {
			return nil, errors.Errorf("run %s stalled: no task eligible and none executing", s.runID)
		}
	}

	if s.wp != nil {
		s.wp.StopWait()
	}
	s.buildSummary(summary)
	return summary, nil
}

func (s *scheduler) waitForResult(ctx context.Context) error {
	if s.cancelled {
		// in-flight tasks drain to completion after a cancel
		return errors.Trace(s.handleResult(ctx, <-s.doneCh))
	}
	select {
	case res := <-s.doneCh:
		return errors.Trace(s.handleResult(ctx, res))
	case <-ctx.Done():
		s.cancelled = true
		log.Warnf("%s stop requested, aborting tasks not yet executing", s.runID)
		return nil
	}
}

/**
 * dispatchReady walks all nodes in path order and moves every eligible one
 * forward: dispatching it, or completing it without execution when its
 * upstream failed or the run is winding down. Finalizers are exempt from
 * both abort paths. Returns whether any node changed state.
 */
func (s *scheduler) dispatchReady(ctx context.Context) (bool, error) {
	if !s.cancelled && ctx.Err() != nil {
		s.cancelled = true
	}

	progressed := false
	for _, n := range s.graph.order.list() {
		if !n.isReady() {
			continue
		}

		if (s.stopping || s.cancelled) && !n.isFinalizer() {
			if err := s.abortNode(ctx, n); err != nil {
				return false, errors.Trace(err)
			}
			progressed = true
			continue
		}

		if !n.allDependenciesComplete() || !n.allShouldDependenciesComplete() {
			continue
		}
		if !n.isFinalizer() && !n.allDependenciesSuccessful() {
			if err := s.abortUpstreamFailed(ctx, n); err != nil {
				return false, errors.Trace(err)
			}
			progressed = true
			continue
		}

		if s.async && len(s.executing) >= s.maxWorkers {
			continue
		}
		if s.resourcesBusy(n) {
			continue
		}

		if err := s.dispatch(ctx, n); err != nil {
			return false, errors.Trace(err)
		}
		progressed = true
	}
	return progressed, nil
}

// abortNode completes a node without running it because the run is winding
// down. Dependents of an actual failure still report as upstream failures,
// so abandoned work stays distinguishable from failed work.
func (s *scheduler) abortNode(ctx context.Context, n *taskNode) error {
	if blocked := s.failedUpstream(n); blocked != nil {
		return errors.Trace(s.abortUpstreamFailed(ctx, n))
	}

	if err := n.abortExecution(); err != nil {
		return errors.Trace(err)
	}
	cause := "abandoned by fail-fast stop"
	if s.cancelled {
		cause = "run cancelled"
	}
	s.kinds[n.path()] = types.RunAborted
	s.abandoned = append(s.abandoned, n.path())
	s.rec.taskNeverRan(ctx, n, types.RunAborted, cause)
	return nil
}

func (s *scheduler) abortUpstreamFailed(ctx context.Context, n *taskNode) error {
	if err := n.abortExecution(); err != nil {
		return errors.Trace(err)
	}
	cause := "an upstream dependency failed"
	if blocked := s.failedUpstream(n); blocked != nil {
		cause = fmt.Sprintf("dependency %s failed", blocked.path())
	}
	s.kinds[n.path()] = types.UpstreamFailed
	s.failures = append(s.failures, types.NodeFailure{
		Path:  n.path(),
		Kind:  types.UpstreamFailed,
		Cause: cause,
	})
	s.rec.taskNeverRan(ctx, n, types.UpstreamFailed, cause)
	return nil
}

// failedUpstream returns a completed dependency that failed outright or was
// itself blocked by a failure, nil when there is none (yet).
func (s *scheduler) failedUpstream(n *taskNode) *taskNode {
	for _, dep := range n.dependencySuccessors.list() {
		if !dep.isComplete() || dep.isSuccessful() {
			continue
		}
		if dep.isFailed() || s.kinds[dep.path()] == types.UpstreamFailed {
			return dep
		}
	}
	return nil
}

func (s *scheduler) dispatch(ctx context.Context, n *taskNode) error {
	input := s.inputFor(n)
	if err := n.startExecution(); err != nil {
		return errors.Trace(err)
	}
	s.rec.taskStarted(ctx, n)
	s.claimResources(n)

	// snapshot everything the worker needs; workers never read node state
	task := n.task
	action := n.action
	tctx := newTaskContext(ctx, s.runID, task.Path)
	started := time.Now()
	runTask := func() *nodeResult {
		res := &nodeResult{node: n, started: started}
		func() {
			defer func() {
				if r := recover(); r != nil {
					res.fault = errors.Errorf("panic in task %s: %v", task.Path, r)
				}
			}()
			res.output, res.err = action(tctx, task, input)
		}()
		return res
	}

	if s.async {
		s.executing[n.path()] = n
		s.wp.Submit(func() {
			s.doneCh <- runTask()
		})
		return nil
	}
	return errors.Trace(s.handleResult(ctx, runTask()))
}

// inputFor merges the run parameters with the outputs of the node's
// dependencies, in path order.
func (s *scheduler) inputFor(n *taskNode) types.Data {
	input := types.Data(utils.CloneMap(s.params))
	for _, dep := range n.dependencySuccessors.list() {
		input.Merge(dep.output)
	}
	return input
}

func (s *scheduler) handleResult(ctx context.Context, res *nodeResult) error {
	n := res.node
	delete(s.executing, n.path())
	s.releaseResources(n)

	switch {
	case res.fault != nil:
		// the action broke the protocol; flagged apart from task failures
		if err := n.setExecutionFailure(res.fault); err != nil {
			return errors.Trace(err)
		}
		if err := n.finishExecution(); err != nil {
			return errors.Trace(err)
		}
		s.noteFailure(n, types.ExecutionFault, res.fault)
		s.rec.taskFinished(ctx, n, types.ExecutionFault, res.started)

	case res.err != nil:
		if skip, ok := types.AsSkip(res.err); ok {
			n.skipReason = skip.Reason
			if err := n.finishExecution(); err != nil {
				return errors.Trace(err)
			}
			s.skipped = append(s.skipped, n.path())
			s.rec.taskFinished(ctx, n, types.FailureNone, res.started)
			break
		}
		n.setTaskFailure(res.err)
		if err := n.finishExecution(); err != nil {
			return errors.Trace(err)
		}
		s.noteFailure(n, types.TaskFailed, res.err)
		s.rec.taskFinished(ctx, n, types.TaskFailed, res.started)

	default:
		n.output = res.output
		if err := n.finishExecution(); err != nil {
			return errors.Trace(err)
		}
		s.rec.taskFinished(ctx, n, types.FailureNone, res.started)
	}

	// the node reached a terminal state; its finalizers now must run and
	// survive any later abort sweep
	for _, finalizer := range n.finalizers.list() {
		if finalizer.isReady() {
			if err := finalizer.enforceRun(); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func (s *scheduler) noteFailure(n *taskNode, kind types.FailureKind, cause error) {
	s.kinds[n.path()] = kind
	s.failures = append(s.failures, types.NodeFailure{
		Path:  n.path(),
		Kind:  kind,
		Cause: cause.Error(),
	})
	if s.policy == types.FailFast && !s.stopping {
		s.stopping = true
		log.Warnf("%s task %s failed, not starting new work (fail-fast)", s.runID, n.path())
	}
}

func (s *scheduler) resourcesBusy(n *taskNode) bool {
	for _, r := range n.resources {
		if _, busy := s.busyResources[r]; busy {
			return true
		}
	}
	return false
}

func (s *scheduler) claimResources(n *taskNode) {
	for _, r := range n.resources {
		s.busyResources[r] = n.path()
	}
}

func (s *scheduler) releaseResources(n *taskNode) {
	for _, r := range n.resources {
		if s.busyResources[r] == n.path() {
			delete(s.busyResources, r)
		}
	}
}

func (s *scheduler) buildSummary(summary *types.RunSummary) {
	for _, n := range s.graph.order.list() {
		if n.state == types.Executed && !n.isFailed() && n.skipReason == "" {
			summary.Executed = append(summary.Executed, n.path())
		}
	}
	sort.Strings(s.skipped)
	sort.Strings(s.abandoned)
	summary.Skipped = s.skipped
	summary.Abandoned = s.abandoned
	// failures keep completion order: the fail-fast trigger stays first
	summary.Failures = s.failures
	summary.Success = len(s.failures) == 0 && len(s.abandoned) == 0 && !s.cancelled
	summary.EndTime = time.Now()
}
