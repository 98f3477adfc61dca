package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// validateSemantic checks what JSON Schema cannot express: item id
// uniqueness, enum values, relationship endpoints and duration text.
// Dangling endpoints and malformed durations are warnings because the engine
// tolerates both (the edge is dropped, the duration counts as zero).
func validateSemantic(m *schema.WorkflowMap) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	firstSeen := make(map[string]int, len(m.Items))
	for i, item := range m.Items {
		path := fmt.Sprintf("items[%d]", i)
		validateItem(item, path, result)

		if strings.TrimSpace(item.ID) == "" {
			continue
		}
		if prev, dup := firstSeen[item.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate item id %q (first defined at items[%d])", item.ID, prev))
			continue
		}
		firstSeen[item.ID] = i
	}

	type pair struct{ source, target string }
	seenPairs := make(map[pair]int, len(m.Relationships))
	seenRelIDs := make(map[string]bool, len(m.Relationships))
	for i, rel := range m.Relationships {
		path := fmt.Sprintf("relationships[%d]", i)

		if rel.ID != "" {
			if seenRelIDs[rel.ID] {
				result.AddError(path+".id", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate relationship id %q", rel.ID))
			}
			seenRelIDs[rel.ID] = true
		}
		if rel.Kind != "" && !rel.Kind.IsValid() {
			result.AddError(path+".kind", schema.ErrCodeValidation,
				fmt.Sprintf("unknown relationship kind %q", rel.Kind))
		}

		missing := false
		for _, end := range []struct{ field, id string }{{"source", rel.Source}, {"target", rel.Target}} {
			switch {
			case strings.TrimSpace(end.id) == "":
				result.AddError(path+"."+end.field, schema.ErrCodeValidation, end.field+" is required")
				missing = true
			case !hasKey(firstSeen, end.id):
				result.AddWarning(path+"."+end.field, schema.ErrCodeNotFound,
					fmt.Sprintf("references unknown item %q; the relationship is ignored", end.id))
				missing = true
			}
		}
		if missing {
			continue
		}

		p := pair{rel.Source, rel.Target}
		if prev, dup := seenPairs[p]; dup {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("repeats relationships[%d] (%s -> %s); the copy is ignored", prev, rel.Source, rel.Target))
			continue
		}
		seenPairs[p] = i
	}

	return result
}

// validateItem checks the fields of a single item.
func validateItem(item schema.WorkItem, path string, result *schema.ValidationResult) {
	if strings.TrimSpace(item.ID) == "" {
		result.AddError(path+".id", schema.ErrCodeValidation, "item id must not be empty")
	}

	switch {
	case item.Type == "":
		result.AddError(path+".type", schema.ErrCodeValidation, "item type is required")
	case !item.Type.IsValid():
		result.AddError(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown item type %q", item.Type))
	}

	if item.Status != "" && !item.Status.IsValid() {
		result.AddError(path+".status", schema.ErrCodeValidation,
			fmt.Sprintf("unknown item status %q", item.Status))
	}

	if item.Duration != "" && !duration.Valid(item.Duration) {
		result.AddWarning(path+".duration", schema.ErrCodeValidation,
			fmt.Sprintf("malformed duration %q counts as zero minutes", item.Duration))
	}

	if item.Status == schema.ItemStatusCompleted && item.CompletedAt == nil {
		result.AddWarning(path+".completed_at", schema.ErrCodeValidation,
			"completed item has no completion time")
	}
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}
