package expressions

import "github.com/rendis/flowmap/pkg/schema"

func sampleItems() []schema.WorkItem {
	return []schema.WorkItem{
		{ID: "a", Label: "Intake call", Type: schema.ItemTypeTrigger, Stage: "intake", Department: "sales", Duration: "30m"},
		{ID: "b", Label: "Draft contract", Type: schema.ItemTypeAction, Stage: "legal", Department: "legal", Duration: "2d"},
		{ID: "c", Label: "Approve", Type: schema.ItemTypeDecision, Stage: "legal", Department: "exec", Duration: "4h",
			Status: schema.ItemStatusInProgress, Progress: 40},
		{ID: "d", Label: "Signed PDF", Type: schema.ItemTypeArtifact, Stage: "close", Department: "legal", Duration: "bogus",
			Metadata: map[string]any{"priority": "high"}},
	}
}
