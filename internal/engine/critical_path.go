package engine

import (
	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// PathNode is one step of the critical path.
type PathNode struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Duration float64 `json:"duration"` // minutes
	Position int     `json:"position"` // 1-based
}

// CriticalPathResult is the longest duration-weighted route through a map.
type CriticalPathResult struct {
	Path         []string   `json:"path"`
	Nodes        []PathNode `json:"nodes"`
	TotalMinutes float64    `json:"total_minutes"`
}

// CriticalPath computes the critical path of items linked by rels.
func CriticalPath(items []schema.WorkItem, rels []schema.Relationship) *CriticalPathResult {
	return CriticalPathOf(BuildGraph(items, rels))
}

// CriticalPathOf computes the critical path of a prebuilt graph.
//
// The longest downstream distance of every node is memoized, so each node and
// edge is visited once. Candidate starts are the roots; when every node has a
// predecessor the TRIGGER items are tried instead, and failing that the first
// item. Ties keep the first route found: candidates in input order,
// successors in relationship order. An edge back onto the current recursion
// stack is ignored, which keeps cyclic input from recursing forever. Such
// input yields a path, but not a meaningful one.
func CriticalPathOf(g *Graph) *CriticalPathResult {
	result := &CriticalPathResult{Path: []string{}, Nodes: []PathNode{}}
	if g.Len() == 0 {
		return result
	}

	minutes := make(map[string]float64, g.Len())
	for _, id := range g.Order {
		minutes[id] = duration.Parse(g.Items[id].Duration)
	}

	dist := make(map[string]float64, g.Len())
	next := make(map[string]string, g.Len())
	done := make(map[string]bool, g.Len())
	onStack := make(map[string]bool)

	var longest func(id string) float64
	longest = func(id string) float64 {
		if done[id] {
			return dist[id]
		}
		onStack[id] = true

		best, bestNext := 0.0, ""
		for _, succ := range g.Successors[id] {
			if onStack[succ] {
				continue
			}
			if d := longest(succ); bestNext == "" || d > best {
				best, bestNext = d, succ
			}
		}

		onStack[id] = false
		done[id] = true
		dist[id] = minutes[id] + best
		next[id] = bestNext
		return dist[id]
	}

	start, total := "", -1.0
	for _, id := range startCandidates(g) {
		if d := longest(id); d > total {
			start, total = id, d
		}
	}

	seen := make(map[string]bool)
	for id := start; id != "" && !seen[id]; id = next[id] {
		seen[id] = true
		result.Path = append(result.Path, id)
		result.Nodes = append(result.Nodes, PathNode{
			ID:       id,
			Label:    g.Label(id),
			Duration: minutes[id],
			Position: len(result.Path),
		})
	}
	result.TotalMinutes = total

	return result
}

func startCandidates(g *Graph) []string {
	if roots := g.Roots(); len(roots) > 0 {
		return roots
	}
	var triggers []string
	for _, id := range g.Order {
		if g.Items[id].Type == schema.ItemTypeTrigger {
			triggers = append(triggers, id)
		}
	}
	if len(triggers) > 0 {
		return triggers
	}
	return g.Order[:1]
}

// OnPath reports whether id lies on the critical path.
func (r *CriticalPathResult) OnPath(id string) bool {
	for _, p := range r.Path {
		if p == id {
			return true
		}
	}
	return false
}
