package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/taskgraph/types"
)

func validGraph(t *testing.T, tasks map[string][]types.TaskOption) *taskGraph {
	g := buildGraph(t, tasks)
	assert.Nil(t, g.validate())
	return g
}

func stateOf(t *testing.T, g *taskGraph, path string) types.ExecutionState {
	n, exists := g.node(path)
	assert.True(t, exists)
	return n.state
}

func TestRequireWalksDependencies(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"compile": nil,
		"test":    {types.DependsOn("compile")},
		"deploy":  {types.DependsOn("test")},
		"lint":    nil,
	})
	assert.Nil(t, g.requireTasks([]string{"deploy"}))

	assert.Equal(t, types.ShouldRun, stateOf(t, g, "deploy"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "test"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "compile"))
	// never reached, excluded from scheduling
	assert.Equal(t, types.NotRequired, stateOf(t, g, "lint"))
}

func TestRequireUnknownTask(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{"a": nil})
	assert.NotNil(t, g.requireTasks([]string{"missing"}))
}

func TestRequireAllWhenNoneRequested(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"a": nil,
		"b": nil,
	})
	assert.Nil(t, g.requireTasks(nil))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "a"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "b"))
}

func TestRequireDiamondTerminates(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"base":  nil,
		"left":  {types.DependsOn("base")},
		"right": {types.DependsOn("base")},
		"top":   {types.DependsOn("left", "right")},
	})
	assert.Nil(t, g.requireTasks([]string{"top"}))

	for _, path := range []string{"base", "left", "right", "top"} {
		assert.Equal(t, types.ShouldRun, stateOf(t, g, path))
	}
}

func TestRequirePullsFinalizers(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"work":    {types.FinalizedBy("cleanup")},
		"cleanup": {types.DependsOn("collect")},
		"collect": nil,
		"other":   nil,
	})
	assert.Nil(t, g.requireTasks([]string{"work"}))

	// the finalizer is required because work is required, and the
	// finalizer's own dependencies come along
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "cleanup"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "collect"))
	assert.Equal(t, types.NotRequired, stateOf(t, g, "other"))
}

func TestFinalizerNotRequiredWhenTargetIsNot(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"work":    {types.FinalizedBy("cleanup")},
		"cleanup": nil,
		"other":   nil,
	})
	assert.Nil(t, g.requireTasks([]string{"other"}))

	assert.Equal(t, types.NotRequired, stateOf(t, g, "work"))
	assert.Equal(t, types.NotRequired, stateOf(t, g, "cleanup"))
}

func TestMustRunAfterDoesNotRequire(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"a": {types.MustRunAfter("b"), types.ShouldRunAfter("c")},
		"b": nil,
		"c": nil,
	})
	assert.Nil(t, g.requireTasks([]string{"a"}))

	// ordering-only edges never pull nodes into the required set
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "a"))
	assert.Equal(t, types.NotRequired, stateOf(t, g, "b"))
	assert.Equal(t, types.NotRequired, stateOf(t, g, "c"))
}

func TestRequireIdempotence(t *testing.T) {
	g := validGraph(t, map[string][]types.TaskOption{
		"a": {types.DependsOn("b")},
		"b": nil,
	})

	// doNotRequire then require yields the same eligibility as a single
	// require
	a, _ := g.node("a")
	a.doNotRequire()
	assert.Nil(t, g.requireTasks([]string{"a"}))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "a"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "b"))

	// a second pass is a no-op
	assert.Nil(t, g.requireTasks([]string{"a"}))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "a"))
	assert.Equal(t, types.ShouldRun, stateOf(t, g, "b"))
}
