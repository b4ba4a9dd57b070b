package runtime

import (
	"context"
	"sync"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskgraph/store"
	"github.com/warriorguo/taskgraph/types"
)

func NewEngine(store store.Store, opts *types.EngineOptions) types.Engine {
	return &engine{
		store: store,
		opts:  opts,
		plans: make(map[string]*planEntity),
	}
}

/**
 * engine holds the registered plans and the store. Every Execute builds a
 * fresh graph from the plan's task list; the graph lives for exactly one
 * run and is discarded with its node states afterwards. Only trace records
 * and the summary survive, through the store.
 */
type engine struct {
	store store.Store
	opts  *types.EngineOptions

	planMu sync.Mutex
	plans  map[string]*planEntity

	runMu sync.Mutex
	runs  map[string]bool

	closed bool
}

type planEntity struct {
	name  string
	tasks []*taskEntity
}

type taskEntity struct {
	task   types.TaskRef
	action types.Action
	opts   types.TaskOptions
}

var (
	_ types.Plan = &planBuilder{}
)

type planBuilder struct {
	plan  *planEntity
	seen  map[string]bool
}

func (b *planBuilder) Task(path string, action types.Action, options ...types.TaskOption) error {
	if path == "" {
		return errors.BadRequestf("task path is empty")
	}
	if action == nil {
		return errors.BadRequestf("task %s: action is nil", path)
	}
	if b.seen[path] {
		return errors.AlreadyExistsf("task: %s", path)
	}

	opts := types.TaskOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	b.seen[path] = true
	b.plan.tasks = append(b.plan.tasks, &taskEntity{
		task:   types.TaskRef{Path: path},
		action: action,
		opts:   opts,
	})
	return nil
}

func (e *engine) RegisterPlan(name string, handler types.PlanHandler) error {
	if e.closed {
		return errors.MethodNotAllowedf("engine closed")
	}
	if name == "" {
		return errors.BadRequestf("plan name is empty")
	}

	builder := &planBuilder{
		plan: &planEntity{name: name},
		seen: make(map[string]bool),
	}
	if err := handler(builder); err != nil {
		return errors.Trace(err)
	}

	e.planMu.Lock()
	defer e.planMu.Unlock()
	e.plans[name] = builder.plan
	return nil
}

func (e *engine) ListPlanNames() ([]string, error) {
	e.planMu.Lock()
	defer e.planMu.Unlock()

	names := make([]string, 0, len(e.plans))
	for name := range e.plans {
		names = append(names, name)
	}
	return names, nil
}

func (e *engine) getPlan(name string) (*planEntity, bool) {
	e.planMu.Lock()
	defer e.planMu.Unlock()
	plan, exists := e.plans[name]
	return plan, exists
}

// buildGraph constructs and validates a fresh graph from a registered plan.
func (e *engine) buildGraph(plan *planEntity) (*taskGraph, error) {
	g := newTaskGraph(plan.name)
	for _, t := range plan.tasks {
		if err := g.addTask(t.task, t.action, &t.opts); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := g.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return g, nil
}

func (e *engine) Execute(ctx context.Context, planName, runID string, requested []string, params types.Data) (*types.RunSummary, error) {
	if e.closed {
		return nil, errors.MethodNotAllowedf("engine closed")
	}
	if ctx == nil {
		ctx = e.opts.Ctx
	}
	if runID == "" {
		return nil, errors.BadRequestf("run ID is empty")
	}
	plan, exists := e.getPlan(planName)
	if !exists {
		return nil, errors.NotFoundf("plan: %s", planName)
	}
	if err := e.claimRun(runID); err != nil {
		return nil, errors.Trace(err)
	}
	defer e.releaseRun(runID)

	g, err := e.buildGraph(plan)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.requireTasks(requested); err != nil {
		return nil, errors.Trace(err)
	}

	log.Debugf("%s executing plan %s, %d tasks, policy %s",
		runID, planName, g.size(), e.opts.FailurePolicy)

	rec := newRunRecorder(e.store, runID)
	sched := newScheduler(g, rec, runID, params, e.opts)
	summary, err := sched.run(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := rec.saveSummary(ctx, summary); err != nil {
		log.Errorf("%s failed to save run summary: %v", runID, err)
	}
	return summary, nil
}

func (e *engine) claimRun(runID string) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.runs == nil {
		e.runs = make(map[string]bool)
	}
	if e.runs[runID] {
		return errors.AlreadyExistsf("run ID: %s", runID)
	}
	e.runs[runID] = true
	return nil
}

func (e *engine) releaseRun(runID string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	delete(e.runs, runID)
}

func (e *engine) GetRunSummary(ctx context.Context, runID string) (*types.RunSummary, error) {
	return loadRunSummary(ctx, e.store, runID)
}

func (e *engine) LoadRunRecords(ctx context.Context, runID string) (map[string]*types.TaskRunRecord, error) {
	return loadRunRecords(ctx, e.store, runID)
}

func (e *engine) RenderPlan(name string) (string, error) {
	plan, exists := e.getPlan(name)
	if !exists {
		return "", errors.NotFoundf("plan: %s", name)
	}
	g, err := e.buildGraph(plan)
	if err != nil {
		return "", errors.Trace(err)
	}
	return newGraphRenderer().generateDOT(g, nil)
}

func (e *engine) RenderRun(ctx context.Context, runID string) (string, error) {
	summary, err := loadRunSummary(ctx, e.store, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	plan, exists := e.getPlan(summary.Plan)
	if !exists {
		return "", errors.NotFoundf("plan %s of run %s", summary.Plan, runID)
	}
	g, err := e.buildGraph(plan)
	if err != nil {
		return "", errors.Trace(err)
	}
	records, err := loadRunRecords(ctx, e.store, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return newGraphRenderer().generateDOT(g, records)
}

func (e *engine) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	if closer, ok := e.store.(interface{ Close() error }); ok {
		return errors.Trace(closer.Close())
	}
	return nil
}
