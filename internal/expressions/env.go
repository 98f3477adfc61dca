package expressions

import (
	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// ItemEnv flattens a work item into the variables expressions see.
// minutes is the parsed duration; duration keeps the raw text.
func ItemEnv(item schema.WorkItem) map[string]any {
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"id":         item.ID,
		"label":      item.DisplayLabel(),
		"type":       string(item.Type),
		"stage":      item.Stage,
		"department": item.Department,
		"duration":   item.Duration,
		"minutes":    duration.Parse(item.Duration),
		"status":     string(item.Status),
		"progress":   item.Progress,
		"metadata":   metadata,
	}
}
