package runtime

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskgraph/types"
	"github.com/warriorguo/taskgraph/utils"
)

/**
 * taskGraph owns every node of one run. Construction happens in three
 * phases: addTask for each task, processLinks to resolve the declared
 * relations into edges (once per node, memoized), then validate. After
 * validate passes the shape of the graph never changes again; only node
 * states move.
 */
type taskGraph struct {
	plan string

	nodes map[string]*taskNode
	// every node, path-sorted; the deterministic walk & dispatch order
	order nodeSet

	validated bool
}

func newTaskGraph(plan string) *taskGraph {
	return &taskGraph{
		plan:  plan,
		nodes: make(map[string]*taskNode),
	}
}

func (g *taskGraph) addTask(task types.TaskRef, action types.Action, opts *types.TaskOptions) error {
	if task.Path == "" {
		return errors.BadRequestf("task path is empty")
	}
	if action == nil {
		return errors.BadRequestf("task %s: action is nil", task.Path)
	}
	if _, exists := g.nodes[task.Path]; exists {
		return errors.AlreadyExistsf("task: %s", task.Path)
	}

	n := newTaskNode(task, action, opts)
	g.nodes[task.Path] = n
	g.order.add(n)
	return nil
}

func (g *taskGraph) node(path string) (*taskNode, bool) {
	n, exists := g.nodes[path]
	return n, exists
}

func (g *taskGraph) size() int {
	return len(g.nodes)
}

// processLinks resolves every node's declared relations into edges.
func (g *taskGraph) processLinks() error {
	for _, n := range g.order.list() {
		if err := g.processNodeLinks(n); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (g *taskGraph) processNodeLinks(n *taskNode) error {
	if n.dependenciesProcessed {
		return nil
	}

	depends := n.declared.DependsOn
	if n.declared.Resolver != nil {
		resolved, err := n.declared.Resolver(n.task)
		if err != nil {
			return errors.Annotatef(err, "resolving dependencies of task %s", n.path())
		}
		depends = append(append([]string{}, depends...), resolved...)
	}

	// declared and resolved dependencies may overlap
	for _, path := range utils.UniqueSlice(depends) {
		to, err := g.linkTarget(n, path, "dependency")
		if err != nil {
			return errors.Trace(err)
		}
		n.addDependencySuccessor(to)
	}
	for _, path := range n.declared.MustRunAfter {
		to, err := g.linkTarget(n, path, "mustRunAfter")
		if err != nil {
			return errors.Trace(err)
		}
		n.addMustSuccessor(to)
	}
	for _, path := range n.declared.ShouldRunAfter {
		to, exists := g.nodes[path]
		if !exists {
			return errors.NotFoundf("shouldRunAfter %q of task %s", path, n.path())
		}
		if to == n {
			// advisory only; a self hint is meaningless, drop it
			continue
		}
		n.addShouldSuccessor(to)
	}
	for _, path := range n.declared.FinalizedBy {
		finalizer, err := g.linkTarget(n, path, "finalizedBy")
		if err != nil {
			return errors.Trace(err)
		}
		n.addFinalizer(finalizer)
	}

	n.dependenciesProcessed = true
	return nil
}

func (g *taskGraph) linkTarget(n *taskNode, path, kind string) (*taskNode, error) {
	to, exists := g.nodes[path]
	if !exists {
		return nil, errors.NotFoundf("%s %q of task %s", kind, path, n.path())
	}
	if to == n {
		return nil, errors.BadRequestf("task %s: %s refers to itself", n.path(), kind)
	}
	return to, nil
}

/**
 * validate finishes construction: the hard edges (dependency, must,
 * finalizing) must be acyclic, reported with the full cycle path when not.
 * Should-edges are checked afterwards and dropped when they would close a
 * cycle; pruning lazily at validation time keeps edge insertion order
 * irrelevant to the outcome.
 */
func (g *taskGraph) validate() error {
	if err := g.processLinks(); err != nil {
		return errors.Trace(err)
	}
	if err := g.checkCycles(); err != nil {
		return errors.Trace(err)
	}
	g.pruneShouldEdges()
	g.validated = true
	return nil
}

// hardSuccessors are the edges that gate execution order and must stay
// acyclic.
func (n *taskNode) hardSuccessors() []*taskNode {
	out := make([]*taskNode, 0,
		n.dependencySuccessors.size()+n.mustSuccessors.size()+n.finalizingSuccessors.size())
	out = append(out, n.dependencySuccessors.list()...)
	out = append(out, n.mustSuccessors.list()...)
	out = append(out, n.finalizingSuccessors.list()...)
	return out
}

const (
	colorWhite = 0
	colorGrey  = 1
	colorBlack = 2
)

func (g *taskGraph) checkCycles() error {
	color := make(map[*taskNode]int, len(g.nodes))
	var stack []*taskNode

	var visit func(n *taskNode) error
	visit = func(n *taskNode) error {
		color[n] = colorGrey
		stack = append(stack, n)

		for _, next := range n.hardSuccessors() {
			switch color[next] {
			case colorGrey:
				return types.NewCycleError(cyclePath(stack, next))
			case colorWhite:
				if err := visit(next); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = colorBlack
		return nil
	}

	for _, n := range g.order.list() {
		if color[n] != colorWhite {
			continue
		}
		if err := visit(n); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// cyclePath slices the DFS stack down to the minimal closed walk and
// repeats the entry node at the end.
func cyclePath(stack []*taskNode, entry *taskNode) []string {
	start := 0
	for i, n := range stack {
		if n == entry {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, n := range stack[start:] {
		path = append(path, n.path())
	}
	return append(path, entry.path())
}

func (g *taskGraph) pruneShouldEdges() {
	for _, n := range g.order.list() {
		for _, hint := range append([]*taskNode{}, n.shouldSuccessors.list()...) {
			if !g.reaches(hint, n) {
				continue
			}
			n.removeShouldSuccessor(hint)
			log.Debugf("plan %s: dropping shouldRunAfter %s -> %s, it would close a cycle",
				g.plan, n.path(), hint.path())
		}
	}
}

// reaches walks hard plus kept should edges from one node looking for
// another.
func (g *taskGraph) reaches(from, target *taskNode) bool {
	seen := map[*taskNode]bool{from: true}
	worklist := []*taskNode{from}
	for len(worklist) > 0 {
		n := worklist[0]
		worklist = worklist[1:]
		if n == target {
			return true
		}
		for _, next := range append(n.hardSuccessors(), n.shouldSuccessors.list()...) {
			if !seen[next] {
				seen[next] = true
				worklist = append(worklist, next)
			}
		}
	}
	return false
}

func (g *taskGraph) allComplete() bool {
	for _, n := range g.order.list() {
		if !n.isComplete() {
			return false
		}
	}
	return true
}
