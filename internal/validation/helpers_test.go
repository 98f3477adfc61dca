package validation

import "github.com/rendis/flowmap/pkg/schema"

func item(id string, typ schema.ItemType, dur string) schema.WorkItem {
	return schema.WorkItem{ID: id, Label: id, Type: typ, Duration: dur}
}

func rel(source, target string) schema.Relationship {
	return schema.Relationship{Source: source, Target: target, Kind: schema.RelBlocks}
}

// onboardingMap is a small valid map: a trigger fanning out to two actions
// that join on an artifact.
func onboardingMap() *schema.WorkflowMap {
	return &schema.WorkflowMap{
		ID:   "m1",
		Name: "Onboarding",
		Items: []schema.WorkItem{
			item("signup", schema.ItemTypeTrigger, "0m"),
			item("verify", schema.ItemTypeAction, "2h"),
			item("provision", schema.ItemTypeAction, "1d"),
			item("welcome", schema.ItemTypeArtifact, "30m"),
		},
		Relationships: []schema.Relationship{
			rel("signup", "verify"),
			rel("signup", "provision"),
			rel("verify", "welcome"),
			rel("provision", "welcome"),
		},
	}
}

func codes(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func paths(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Path)
	}
	return out
}
