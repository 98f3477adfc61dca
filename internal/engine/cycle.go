package engine

import "github.com/rendis/flowmap/pkg/schema"

// WouldCreateCycle reports whether committing proposed on top of existing
// would close a directed cycle. A self-loop always does. Otherwise the
// adjacency of existing plus proposed is searched depth-first from
// proposed.Source; reaching a node that is still on the recursion stack
// means a cycle.
//
// The answer is advisory: the edit boundary decides whether to refuse the
// relationship, and the edge set is never modified here.
func WouldCreateCycle(proposed schema.Relationship, existing []schema.Relationship) bool {
	if proposed.Source == proposed.Target {
		return true
	}

	adj := make(map[string][]string, len(existing)+1)
	for _, rel := range existing {
		adj[rel.Source] = append(adj[rel.Source], rel.Target)
	}
	adj[proposed.Source] = append(adj[proposed.Source], proposed.Target)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range adj[id] {
			if onStack[next] {
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	return visit(proposed.Source)
}

// FindCycle returns one directed cycle in g as a closed path such as
// [a b c a], or nil when g is acyclic. Items are explored in input order so
// the reported cycle is stable for a given snapshot.
func FindCycle(g *Graph) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, g.Len())
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range g.Successors[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle := make([]string, 0, len(stack)-i+1)
						cycle = append(cycle, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.Order {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}
