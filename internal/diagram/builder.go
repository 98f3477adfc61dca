package diagram

import (
	"errors"
	"time"

	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/pkg/schema"
)

// Build constructs a DiagramModel from a map and its analysis report. When
// report is nil the map is analyzed first. Nodes follow level order, so every
// renderer draws predecessors before their dependents.
func Build(m *schema.WorkflowMap, report *engine.Report) (*DiagramModel, error) {
	if m == nil {
		return nil, errors.New("diagram: workflow map is nil")
	}
	if report == nil {
		report = engine.Analyze(m, time.Now())
	}

	g := engine.BuildGraph(m.Items, m.Relationships)

	severity := make(map[string]schema.Severity, len(report.Bottlenecks))
	for _, b := range report.Bottlenecks {
		severity[b.ID] = b.Severity
	}

	var path []string
	var pathMinutes float64
	if report.CriticalPath != nil {
		path = report.CriticalPath.Path
		pathMinutes = report.CriticalPath.TotalMinutes
	}
	onPath := make(map[string]int, len(path))
	for i, id := range path {
		onPath[id] = i
	}

	nodes := make([]*Node, 0, g.Len())
	for _, level := range report.Levels {
		for _, id := range level {
			item, ok := g.Items[id]
			if !ok {
				continue
			}
			node := itemToNode(item)
			if status, ok := report.Statuses[id]; ok {
				node.Status = &StatusOverlay{Status: status, Progress: item.Progress}
			}
			if _, ok := onPath[id]; ok {
				node.Critical = true
				node.Severity = severity[id]
			}
			nodes = append(nodes, node)
		}
	}

	return &DiagramModel{
		Title:        titleFromMap(m),
		Nodes:        nodes,
		Edges:        buildEdges(g, m.Relationships, onPath),
		Levels:       report.Levels,
		Stages:       buildStages(nodes),
		CriticalPath: path,
		PathMinutes:  pathMinutes,
	}, nil
}

// itemToNode maps a WorkItem to a diagram Node.
func itemToNode(item schema.WorkItem) *Node {
	return &Node{
		ID:      item.ID,
		Label:   item.DisplayLabel(),
		Kind:    itemTypeToKind(item.Type),
		Stage:   item.Stage,
		Minutes: duration.Parse(item.Duration),
	}
}

// itemTypeToKind converts a schema.ItemType to a NodeKind.
func itemTypeToKind(t schema.ItemType) NodeKind {
	switch t {
	case schema.ItemTypeTrigger:
		return NodeKindTrigger
	case schema.ItemTypeDecision:
		return NodeKindDecision
	case schema.ItemTypeArtifact:
		return NodeKindArtifact
	default:
		return NodeKindAction
	}
}

// buildEdges emits one edge per graph successor in item order. Labels come
// from the first relationship that produced the pair. An edge is critical
// when it joins consecutive critical path nodes.
func buildEdges(g *engine.Graph, rels []schema.Relationship, onPath map[string]int) []Edge {
	type pair struct{ from, to string }
	labels := make(map[pair]string, len(rels))
	for _, rel := range rels {
		p := pair{rel.Source, rel.Target}
		if _, seen := labels[p]; !seen {
			labels[p] = rel.Label
		}
	}

	var edges []Edge
	for _, from := range g.Order {
		for _, to := range g.Successors[from] {
			fi, fromOK := onPath[from]
			ti, toOK := onPath[to]
			edges = append(edges, Edge{
				From:     from,
				To:       to,
				Label:    labels[pair{from, to}],
				Critical: fromOK && toOK && ti == fi+1,
			})
		}
	}
	return edges
}

// buildStages groups nodes by stage in order of first appearance. Nodes
// without a stage are left ungrouped.
func buildStages(nodes []*Node) []*StageGroup {
	var stages []*StageGroup
	index := make(map[string]*StageGroup)
	for _, n := range nodes {
		if n.Stage == "" {
			continue
		}
		sg, ok := index[n.Stage]
		if !ok {
			sg = &StageGroup{Label: n.Stage}
			index[n.Stage] = sg
			stages = append(stages, sg)
		}
		sg.NodeIDs = append(sg.NodeIDs, n.ID)
	}
	return stages
}

// titleFromMap returns the map name, falling back to its ID.
func titleFromMap(m *schema.WorkflowMap) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
