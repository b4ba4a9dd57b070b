package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warriorguo/taskgraph/types"
)

func newGraphRenderer() *graphRenderer {
	return &graphRenderer{nil, &strings.Builder{}}
}

type graphRenderer struct {
	records map[string]*types.TaskRunRecord
	sb      *strings.Builder
}

func (d *graphRenderer) setRecords(records map[string]*types.TaskRunRecord) {
	if records == nil {
		records = make(map[string]*types.TaskRunRecord)
	}
	d.records = records
}

/**
 * generateDOT renders the graph; with records it doubles as a run report,
 * node colors reflecting each task's recorded outcome.
 */
func (d *graphRenderer) generateDOT(g *taskGraph, records map[string]*types.TaskRunRecord) (string, error) {
	d.setRecords(records)

	d.write("digraph D {")
	d.write("label=%s", quoteString(g.plan))
	for _, n := range g.order.list() {
		d.drawTask(n)
	}
	for _, n := range g.order.list() {
		d.drawEdges(n)
	}
	d.write("}")
	return d.sb.String(), nil
}

func packToComment(r *types.TaskRunRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *graphRenderer) calcAttr(path string) string {
	record, exists := d.records[path]
	if !exists {
		return ""
	}

	color := ""
	switch {
	case record.Kind != types.FailureNone || record.Error != "":
		color = "red"
	case record.SkipReason != "":
		color = "gray"
	case record.StartTime.IsZero():
		color = "white"
	case record.EndTime.IsZero():
		color = "yellow"
	default:
		color = "green"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(record))
}

func (d *graphRenderer) drawTask(n *taskNode) {
	attr := d.calcAttr(n.path())
	d.write("%s [label=%s shape=\"record\"%s]", idString(n.path()), quoteString(n.path()), attr)
}

func (d *graphRenderer) drawEdges(n *taskNode) {
	from := idString(n.path())
	for _, dep := range n.dependencySuccessors.list() {
		d.write("%s -> %s", from, idString(dep.path()))
	}
	for _, dep := range n.mustSuccessors.list() {
		d.write("%s -> %s [style=\"dashed\" label=\"mustRunAfter\"]", from, idString(dep.path()))
	}
	for _, dep := range n.shouldSuccessors.list() {
		d.write("%s -> %s [style=\"dotted\" label=\"shouldRunAfter\"]", from, idString(dep.path()))
	}
	for _, finalizer := range n.finalizers.list() {
		d.write("%s -> %s [style=\"bold\" color=\"purple\" label=\"finalizedBy\"]", from, idString(finalizer.path()))
	}
}

func (d *graphRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", ":", "-", "/"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
