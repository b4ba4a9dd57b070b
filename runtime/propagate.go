package runtime

import (
	"github.com/juju/errors"
)

/**
 * requireTasks marks the requested nodes and everything they transitively
 * depend on as required, then classifies the rest NOT_REQUIRED. Requirement
 * flows backward through dependency edges and sideways into finalizers: a
 * finalizer runs whenever any node it finalizes runs, whether or not it was
 * requested itself. Must/should edges order execution but never pull a node
 * into the required set.
 *
 * Each node is visited at most once per pass; the isIncludeInGraph guard
 * turns false the moment a node is classified, so diamonds terminate.
 */
func (g *taskGraph) requireTasks(requested []string) error {
	var worklist []*taskNode
	for _, path := range requested {
		n, exists := g.node(path)
		if !exists {
			return errors.NotFoundf("requested task %q in plan %s", path, g.plan)
		}
		worklist = append(worklist, n)
	}
	if len(requested) == 0 {
		worklist = append(worklist, g.order.list()...)
	}

	for len(worklist) > 0 {
		n := worklist[0]
		worklist = worklist[1:]

		if !n.isIncludeInGraph() {
			continue
		}
		n.require()

		worklist = append(worklist, n.dependencySuccessors.list()...)
		worklist = append(worklist, n.finalizers.list()...)
	}

	for _, n := range g.order.list() {
		if n.isIncludeInGraph() {
			n.doNotRequire()
		}
	}
	return nil
}
