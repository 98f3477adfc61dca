package engine

import "github.com/rendis/flowmap/pkg/schema"

// Graph is the adjacency view of a map snapshot. It holds copies of the
// items, so analysis never writes through to the caller's slices.
type Graph struct {
	Order        []string                   // item IDs in input order, first occurrence wins
	Items        map[string]schema.WorkItem // item ID -> item
	Successors   map[string][]string        // item ID -> direct successors, relationship order
	Predecessors map[string][]string        // item ID -> direct predecessors, relationship order
}

// BuildGraph indexes items and relationships in O(V+E). Relationships whose
// source or target is not a known item are dropped, as are repeated
// source/target pairs. Successor order follows relationship order, which the
// critical path relies on for tie-breaking.
func BuildGraph(items []schema.WorkItem, rels []schema.Relationship) *Graph {
	g := &Graph{
		Order:        make([]string, 0, len(items)),
		Items:        make(map[string]schema.WorkItem, len(items)),
		Successors:   make(map[string][]string, len(items)),
		Predecessors: make(map[string][]string, len(items)),
	}

	for _, item := range items {
		if _, exists := g.Items[item.ID]; exists {
			continue
		}
		g.Items[item.ID] = item
		g.Order = append(g.Order, item.ID)
	}

	type pair struct{ source, target string }
	seen := make(map[pair]bool, len(rels))
	for _, rel := range rels {
		if _, ok := g.Items[rel.Source]; !ok {
			continue
		}
		if _, ok := g.Items[rel.Target]; !ok {
			continue
		}
		p := pair{rel.Source, rel.Target}
		if seen[p] {
			continue
		}
		seen[p] = true
		g.Successors[rel.Source] = append(g.Successors[rel.Source], rel.Target)
		g.Predecessors[rel.Target] = append(g.Predecessors[rel.Target], rel.Source)
	}

	return g
}

// Len returns the number of distinct items.
func (g *Graph) Len() int {
	return len(g.Order)
}

// Distinct returns the indexed items in input order, one per ID.
func (g *Graph) Distinct() []schema.WorkItem {
	out := make([]schema.WorkItem, 0, len(g.Order))
	for _, id := range g.Order {
		out = append(out, g.Items[id])
	}
	return out
}

// Has reports whether id names an item in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.Items[id]
	return ok
}

// Label returns the display label of an item, or id itself if unknown.
func (g *Graph) Label(id string) string {
	if item, ok := g.Items[id]; ok {
		return item.DisplayLabel()
	}
	return id
}

// Roots returns the items with no incoming relationship, in input order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.Order {
		if len(g.Predecessors[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// TopologicalOrder sorts the graph with Kahn's algorithm. Ties are broken by
// input order for roots and by relationship order afterwards. The second
// result is false when a cycle kept some items out of the order; those items
// are missing from the returned slice.
func TopologicalOrder(g *Graph) ([]string, bool) {
	inDegree := make(map[string]int, g.Len())
	for _, id := range g.Order {
		inDegree[id] = len(g.Predecessors[id])
	}

	queue := g.Roots()
	sorted := make([]string, 0, g.Len())
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, next := range g.Successors[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return sorted, len(sorted) == g.Len()
}

// Levels groups items by topological depth: an item sits one level below its
// deepest predecessor. Items caught in a cycle are collected into one extra
// trailing level so renderers still show them.
func Levels(g *Graph) [][]string {
	sorted, acyclic := TopologicalOrder(g)

	depth := make(map[string]int, len(sorted))
	maxLevel := -1
	for _, id := range sorted {
		d := 0
		for _, pred := range g.Predecessors[id] {
			if depth[pred]+1 > d {
				d = depth[pred] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}

	if !acyclic {
		placed := make(map[string]bool, len(sorted))
		for _, id := range sorted {
			placed[id] = true
		}
		var rest []string
		for _, id := range g.Order {
			if !placed[id] {
				rest = append(rest, id)
			}
		}
		levels = append(levels, rest)
	}

	return levels
}
