package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskgraph/store"
	"github.com/warriorguo/taskgraph/types"
	"github.com/warriorguo/taskgraph/utils"
)

const (
	RecordPath  = "/record/"
	SummaryPath = "/summary/"
)

var (
	_ types.Context = &taskContext{}
)

// taskContext is the Context an action sees. Workers get it with the task
// identity captured at dispatch time; they never touch node state.
type taskContext struct {
	context.Context

	runID    string
	taskPath string
}

func newTaskContext(ctx context.Context, runID, taskPath string) *taskContext {
	return &taskContext{Context: ctx, runID: runID, taskPath: taskPath}
}

func (t *taskContext) GetRunID() string {
	return t.runID
}

func (t *taskContext) GetTaskPath() string {
	return t.taskPath
}

func recordSavePath(runID string) string {
	return RecordPath + runID
}

/**
 * runRecorder persists per-task trace records while a run progresses. A
 * record save failure never fails the run; it is logged and the run keeps
 * going, so reporting degrades instead of aborting builds.
 */
type runRecorder struct {
	store store.Store
	runID string
}

func newRunRecorder(s store.Store, runID string) *runRecorder {
	return &runRecorder{store: s, runID: runID}
}

func (r *runRecorder) taskStarted(ctx context.Context, n *taskNode) {
	log.Debugf("%s executing %s", r.runID, n.path())
	r.save(ctx, &types.TaskRunRecord{
		Path:      n.path(),
		State:     n.state.String(),
		StartTime: time.Now(),
	})
}

func (r *runRecorder) taskFinished(ctx context.Context, n *taskNode, kind types.FailureKind, started time.Time) {
	record := &types.TaskRunRecord{
		Path:       n.path(),
		State:      n.state.String(),
		Kind:       kind,
		StartTime:  started,
		EndTime:    time.Now(),
		SkipReason: n.skipReason,
		Output:     n.output,
	}
	switch {
	case n.executionFailure != nil:
		record.Error = errors.ErrorStack(n.executionFailure)
	case n.taskFailure != nil:
		record.Error = errors.ErrorStack(n.taskFailure)
	}
	r.save(ctx, record)
}

func (r *runRecorder) taskNeverRan(ctx context.Context, n *taskNode, kind types.FailureKind, cause string) {
	r.save(ctx, &types.TaskRunRecord{
		Path:  n.path(),
		State: n.state.String(),
		Kind:  kind,
		Error: cause,
	})
}

func (r *runRecorder) save(ctx context.Context, record *types.TaskRunRecord) {
	b, err := utils.Serialize(record)
	if err != nil {
		log.Errorf("%s failed to serialize record for %s: %v", r.runID, record.Path, err)
		return
	}
	if err := r.store.Set(ctx, recordSavePath(r.runID), record.Path, b); err != nil {
		log.Errorf("%s failed to save record for %s: %v", r.runID, record.Path, err)
	}
}

func (r *runRecorder) saveSummary(ctx context.Context, summary *types.RunSummary) error {
	b, err := utils.Serialize(summary)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, SummaryPath, r.runID, b))
}

func loadRunRecords(ctx context.Context, s store.Store, runID string) (map[string]*types.TaskRunRecord, error) {
	records := make(map[string]*types.TaskRunRecord)
	recordPath := recordSavePath(runID)
	err := s.List(ctx, recordPath, func(task string) bool {
		b, err := s.Get(ctx, recordPath, task)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, task, err)
			return true
		}
		record := &types.TaskRunRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, task, string(b), err)
			return true
		}
		records[task] = record
		return true
	})
	return records, errors.Trace(err)
}

func loadRunSummary(ctx context.Context, s store.Store, runID string) (*types.RunSummary, error) {
	b, err := s.Get(ctx, SummaryPath, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("run summary: %s", runID)
	}
	summary := &types.RunSummary{}
	if err := utils.Unserialize(b, summary); err != nil {
		return nil, errors.Trace(err)
	}
	return summary, nil
}
