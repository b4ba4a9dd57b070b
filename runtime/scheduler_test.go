package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/taskgraph/store/mem"
	"github.com/warriorguo/taskgraph/types"
)

func newSyncOptions() *types.EngineOptions {
	opts := types.NewEngineOptions()
	opts.TaskRunAsync = false
	opts.MemStore = true
	return opts
}

type execLog struct {
	mu    sync.Mutex
	order []string
}

func (l *execLog) appendAction(path string) types.Action {
	return func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.order = append(l.order, path)
		return input, nil
	}
}

func (l *execLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.order...)
}

func failAction(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
	return nil, assert.AnError
}

func runScheduler(t *testing.T, g *taskGraph, requested []string, opts *types.EngineOptions) *types.RunSummary {
	assert.Nil(t, g.requireTasks(requested))
	rec := newRunRecorder(mem.NewMemStore(), "test-run")
	sched := newScheduler(g, rec, "test-run", types.Data{}, opts)
	summary, err := sched.run(context.Background())
	assert.Nil(t, err)
	assert.NotNil(t, summary)
	return summary
}

func TestSchedulerOrdering(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "a"}, logger.appendAction("a"), nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "b"}, logger.appendAction("b"),
		&types.TaskOptions{DependsOn: []string{"a"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "c"}, logger.appendAction("c"),
		&types.TaskOptions{MustRunAfter: []string{"b"}}))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, []string{"a", "b", "c"}, newSyncOptions())

	// c never starts before b completes even without a dependency edge
	assert.Equal(t, []string{"a", "b", "c"}, logger.list())
	assert.True(t, summary.Success)
	assert.Equal(t, []string{"a", "b", "c"}, summary.Executed)
}

func TestSchedulerDeterministicDispatchOrder(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	// added out of order on purpose; dispatch follows path order
	for _, path := range []string{"zeta", "alpha", "mid"} {
		assert.Nil(t, g.addTask(types.TaskRef{Path: path}, logger.appendAction(path), nil))
	}
	assert.Nil(t, g.validate())

	runScheduler(t, g, nil, newSyncOptions())
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, logger.list())
}

func TestSchedulerShouldRunAfterOrdering(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "aaa"}, logger.appendAction("aaa"),
		&types.TaskOptions{ShouldRunAfter: []string{"zzz"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "zzz"}, logger.appendAction("zzz"), nil))
	assert.Nil(t, g.validate())

	runScheduler(t, g, nil, newSyncOptions())
	// the advisory edge wins over plain path order
	assert.Equal(t, []string{"zzz", "aaa"}, logger.list())
}

func TestSchedulerFailFast(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "compile"}, failAction, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "test"}, logger.appendAction("test"),
		&types.TaskOptions{DependsOn: []string{"compile"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "unrelated"}, logger.appendAction("unrelated"), nil))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, newSyncOptions())

	assert.False(t, summary.Success)
	assert.Empty(t, logger.list())

	// the triggering failure comes first; the blocked dependent is
	// reported as an upstream failure, abandoned work separately
	assert.Equal(t, 2, len(summary.Failures))
	assert.Equal(t, "compile", summary.Failures[0].Path)
	assert.Equal(t, types.TaskFailed, summary.Failures[0].Kind)
	assert.Equal(t, "test", summary.Failures[1].Path)
	assert.Equal(t, types.UpstreamFailed, summary.Failures[1].Kind)
	assert.Equal(t, []string{"unrelated"}, summary.Abandoned)
}

func TestSchedulerContinueOnFailure(t *testing.T) {
	logger := &execLog{}
	opts := newSyncOptions()
	opts.FailurePolicy = types.ContinueOnFailure

	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "bad"}, failAction, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "child"}, logger.appendAction("child"),
		&types.TaskOptions{DependsOn: []string{"bad"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "grandchild"}, logger.appendAction("grandchild"),
		&types.TaskOptions{DependsOn: []string{"child"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "independent"}, logger.appendAction("independent"), nil))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, opts)

	assert.False(t, summary.Success)
	// the independent subgraph still completed
	assert.Equal(t, []string{"independent"}, logger.list())
	assert.Equal(t, []string{"independent"}, summary.Executed)
	assert.Empty(t, summary.Abandoned)

	kinds := map[string]types.FailureKind{}
	for _, f := range summary.Failures {
		kinds[f.Path] = f.Kind
	}
	assert.Equal(t, types.TaskFailed, kinds["bad"])
	assert.Equal(t, types.UpstreamFailed, kinds["child"])
	assert.Equal(t, types.UpstreamFailed, kinds["grandchild"])
}

func TestSchedulerFinalizerRunsAfterFailure(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "work"}, failAction,
		&types.TaskOptions{FinalizedBy: []string{"cleanup"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "cleanup"}, logger.appendAction("cleanup"), nil))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, []string{"work"}, newSyncOptions())

	assert.False(t, summary.Success)
	assert.Equal(t, []string{"cleanup"}, logger.list())
	assert.Equal(t, []string{"cleanup"}, summary.Executed)
	assert.Equal(t, 1, len(summary.Failures))
	assert.Equal(t, "work", summary.Failures[0].Path)
}

func TestSchedulerFinalizerExemptFromFailFast(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "a-fails"}, failAction, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "work"}, logger.appendAction("work"),
		&types.TaskOptions{MustRunAfter: []string{"a-fails"}, FinalizedBy: []string{"z-cleanup"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "z-cleanup"}, logger.appendAction("z-cleanup"), nil))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, []string{"a-fails", "work"}, newSyncOptions())

	assert.False(t, summary.Success)
	// work is abandoned by the fail-fast stop, but its finalizer, already
	// required, still runs once work is terminal
	assert.Equal(t, []string{"z-cleanup"}, logger.list())
	assert.Equal(t, []string{"work"}, summary.Abandoned)
}

func TestSchedulerSkippedTask(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "compile"},
		func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
			return nil, types.NewSkipError("up-to-date")
		}, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "test"}, logger.appendAction("test"),
		&types.TaskOptions{DependsOn: []string{"compile"}}))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, newSyncOptions())

	// a clean skip is not a failure; dependents still run
	assert.True(t, summary.Success)
	assert.Equal(t, []string{"compile"}, summary.Skipped)
	assert.Equal(t, []string{"test"}, summary.Executed)
	assert.Equal(t, []string{"test"}, logger.list())
}

func TestSchedulerExecutionFault(t *testing.T) {
	opts := newSyncOptions()
	opts.FailurePolicy = types.ContinueOnFailure

	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "boom"},
		func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
			panic("unexpected")
		}, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "child"}, dumbAction,
		&types.TaskOptions{DependsOn: []string{"boom"}}))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, opts)

	assert.False(t, summary.Success)
	kinds := map[string]types.FailureKind{}
	for _, f := range summary.Failures {
		kinds[f.Path] = f.Kind
	}
	// a panic is flagged as an execution fault, never as a task failure
	assert.Equal(t, types.ExecutionFault, kinds["boom"])
	assert.Equal(t, types.UpstreamFailed, kinds["child"])
}

func TestSchedulerCancellation(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "work"}, logger.appendAction("work"),
		&types.TaskOptions{FinalizedBy: []string{"z-cleanup"}}))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "other"}, logger.appendAction("other"), nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "z-cleanup"}, logger.appendAction("z-cleanup"), nil))
	assert.Nil(t, g.validate())
	assert.Nil(t, g.requireTasks(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newRunRecorder(mem.NewMemStore(), "test-run")
	sched := newScheduler(g, rec, "test-run", types.Data{}, newSyncOptions())
	summary, err := sched.run(ctx)
	assert.Nil(t, err)

	assert.False(t, summary.Success)
	// everything not yet executing is aborted, but the finalizer of the
	// aborted work still runs
	assert.Equal(t, []string{"z-cleanup"}, logger.list())
	assert.Equal(t, []string{"other", "work"}, summary.Abandoned)
}

func TestSchedulerInputDataFlow(t *testing.T) {
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "produce"},
		func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
			param, exists := input.GetString("param")
			assert.True(t, exists)
			assert.Equal(t, "from-run", param)
			return types.Data{"artifact": "lib.a"}, nil
		}, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "use"},
		func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
			artifact, exists := input.GetString("artifact")
			assert.True(t, exists)
			assert.Equal(t, "lib.a", artifact)
			assert.Equal(t, "test-run", ctx.GetRunID())
			assert.Equal(t, "use", ctx.GetTaskPath())
			return nil, nil
		}, &types.TaskOptions{DependsOn: []string{"produce"}}))
	assert.Nil(t, g.validate())
	assert.Nil(t, g.requireTasks(nil))

	rec := newRunRecorder(mem.NewMemStore(), "test-run")
	sched := newScheduler(g, rec, "test-run", types.Data{"param": "from-run"}, newSyncOptions())
	summary, err := sched.run(context.Background())
	assert.Nil(t, err)
	assert.True(t, summary.Success)
}

func TestSchedulerMustNotRunTreatedSuccessful(t *testing.T) {
	logger := &execLog{}
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "excluded"}, logger.appendAction("excluded"), nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "task"}, logger.appendAction("task"),
		&types.TaskOptions{DependsOn: []string{"excluded"}}))
	assert.Nil(t, g.validate())
	assert.Nil(t, g.requireTasks(nil))

	excluded, _ := g.node("excluded")
	excluded.mustNotRun()

	rec := newRunRecorder(mem.NewMemStore(), "test-run")
	sched := newScheduler(g, rec, "test-run", types.Data{}, newSyncOptions())
	summary, err := sched.run(context.Background())
	assert.Nil(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, []string{"task"}, logger.list())
}

func TestSchedulerAsyncRun(t *testing.T) {
	opts := types.NewEngineOptions()
	opts.MaxWorkers = 4

	var running, maxRunning int32
	slowAction := func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			observed := atomic.LoadInt32(&maxRunning)
			if cur <= observed || atomic.CompareAndSwapInt32(&maxRunning, observed, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return input, nil
	}

	logger := &execLog{}
	g := newTaskGraph("test")
	for _, path := range []string{"a", "b", "c"} {
		assert.Nil(t, g.addTask(types.TaskRef{Path: path}, slowAction, nil))
	}
	assert.Nil(t, g.addTask(types.TaskRef{Path: "last"}, logger.appendAction("last"),
		&types.TaskOptions{DependsOn: []string{"a", "b", "c"}}))
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, opts)

	assert.True(t, summary.Success)
	assert.Equal(t, []string{"a", "b", "c", "last"}, summary.Executed)
	// the independent tasks really ran in parallel, the dependent last
	assert.True(t, atomic.LoadInt32(&maxRunning) > 1)
	assert.Equal(t, []string{"last"}, logger.list())
}

func TestSchedulerResourceExclusion(t *testing.T) {
	opts := types.NewEngineOptions()
	opts.MaxWorkers = 4

	var running, maxRunning int32
	contended := func(ctx types.Context, task types.TaskRef, input types.Data) (types.Data, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			observed := atomic.LoadInt32(&maxRunning)
			if cur <= observed || atomic.CompareAndSwapInt32(&maxRunning, observed, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return input, nil
	}

	g := newTaskGraph("test")
	for _, path := range []string{"writer1", "writer2", "writer3"} {
		assert.Nil(t, g.addTask(types.TaskRef{Path: path}, contended,
			&types.TaskOptions{Resources: []string{"output-dir"}}))
	}
	assert.Nil(t, g.validate())

	summary := runScheduler(t, g, nil, opts)

	assert.True(t, summary.Success)
	assert.Equal(t, 3, len(summary.Executed))
	// sharing a resource: never more than one at a time
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestSchedulerRecords(t *testing.T) {
	s := mem.NewMemStore()
	g := newTaskGraph("test")
	assert.Nil(t, g.addTask(types.TaskRef{Path: "good"}, dumbAction, nil))
	assert.Nil(t, g.addTask(types.TaskRef{Path: "bad"}, failAction, nil))
	assert.Nil(t, g.validate())
	assert.Nil(t, g.requireTasks(nil))

	opts := newSyncOptions()
	opts.FailurePolicy = types.ContinueOnFailure
	sched := newScheduler(g, newRunRecorder(s, "rec-run"), "rec-run", types.Data{}, opts)
	summary, err := sched.run(context.Background())
	assert.Nil(t, err)
	assert.False(t, summary.Success)

	records, err := loadRunRecords(context.Background(), s, "rec-run")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(records))
	assert.Equal(t, "executed", records["good"].State)
	assert.Equal(t, types.FailureNone, records["good"].Kind)
	assert.Equal(t, types.TaskFailed, records["bad"].Kind)
	assert.NotEqual(t, "", records["bad"].Error)
}
