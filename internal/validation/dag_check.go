package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/pkg/schema"
)

// validateDAG performs graph analysis on the map: self-loop and cycle
// detection, then reachability from TRIGGER items.
func validateDAG(m *schema.WorkflowMap) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	rels := make([]schema.Relationship, 0, len(m.Relationships))
	for i, rel := range m.Relationships {
		if rel.Source == rel.Target {
			result.AddError(fmt.Sprintf("relationships[%d]", i), schema.ErrCodeCycleDetected,
				fmt.Sprintf("item %q depends on itself", rel.Source))
			continue
		}
		rels = append(rels, rel)
	}

	g := engine.BuildGraph(m.Items, rels)
	if cycle := engine.FindCycle(g); cycle != nil {
		result.AddError("relationships", schema.ErrCodeCycleDetected,
			"map contains a dependency cycle: "+strings.Join(cycle, " -> "))
	}
	if !result.Valid() {
		return result // cycle makes reachability analysis meaningless
	}

	var triggers []string
	for _, id := range g.Order {
		if g.Items[id].Type == schema.ItemTypeTrigger {
			triggers = append(triggers, id)
		}
	}
	if len(triggers) == 0 {
		return result
	}

	reachable := make(map[string]bool, g.Len())
	queue := append([]string(nil), triggers...)
	for _, id := range triggers {
		reachable[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.Successors[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, item := range m.Items {
		if g.Has(item.ID) && !reachable[item.ID] {
			result.AddWarning(fmt.Sprintf("items[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("item %q is not reachable from any trigger", item.ID))
		}
	}

	return result
}
