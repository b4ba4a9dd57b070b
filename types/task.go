package types

// TaskRef identifies one unit of work. Path is the unique, user-visible
// identity of the task inside its plan; it is also the ordering key used
// wherever iteration order affects scheduling, so runs stay reproducible.
type TaskRef struct {
	Path        string
	Description string
}

// Action runs the work of a task. The input carries the run parameters
// merged with the outputs of the task's dependencies; the returned Data is
// recorded and fed to dependents. Returning an error created by
// NewSkipError marks the task skipped rather than failed.
type Action func(ctx Context, task TaskRef, input Data) (Data, error)

// DependencyResolver supplies additional dependency paths for a task. It is
// invoked at most once per task while the graph is populated.
type DependencyResolver func(task TaskRef) ([]string, error)

type TaskOptions struct {
	DependsOn      []string
	MustRunAfter   []string
	ShouldRunAfter []string
	FinalizedBy    []string
	// Resources names mutually exclusive resources (e.g. an output
	// location). Two tasks sharing a resource never run concurrently.
	Resources []string
	Resolver  DependencyResolver
}

type TaskOption func(*TaskOptions)

func DependsOn(paths ...string) TaskOption {
	return func(opts *TaskOptions) {
		opts.DependsOn = append(opts.DependsOn, paths...)
	}
}

func MustRunAfter(paths ...string) TaskOption {
	return func(opts *TaskOptions) {
		opts.MustRunAfter = append(opts.MustRunAfter, paths...)
	}
}

// ShouldRunAfter declares advisory ordering. The edge is dropped silently
// if honoring it would create a cycle.
func ShouldRunAfter(paths ...string) TaskOption {
	return func(opts *TaskOptions) {
		opts.ShouldRunAfter = append(opts.ShouldRunAfter, paths...)
	}
}

// FinalizedBy declares that the named tasks run whenever this task reaches
// a terminal outcome, success or failure alike.
func FinalizedBy(paths ...string) TaskOption {
	return func(opts *TaskOptions) {
		opts.FinalizedBy = append(opts.FinalizedBy, paths...)
	}
}

func UsesResources(names ...string) TaskOption {
	return func(opts *TaskOptions) {
		opts.Resources = append(opts.Resources, names...)
	}
}

// ResolveDependenciesWith defers part of the dependency list to a callback
// invoked once during graph population.
func ResolveDependenciesWith(resolver DependencyResolver) TaskOption {
	return func(opts *TaskOptions) {
		opts.Resolver = resolver
	}
}

// Plan collects the tasks of one registered build plan.
type Plan interface {
	Task(path string, action Action, options ...TaskOption) error
}

type PlanHandler func(plan Plan) error
