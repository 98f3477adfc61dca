package engine

import "github.com/rendis/flowmap/pkg/schema"

func item(id, dur string) schema.WorkItem {
	return schema.WorkItem{ID: id, Label: "Item " + id, Type: schema.ItemTypeAction, Duration: dur}
}

func typed(id, dur string, t schema.ItemType) schema.WorkItem {
	w := item(id, dur)
	w.Type = t
	return w
}

func withStatus(w schema.WorkItem, s schema.ItemStatus) schema.WorkItem {
	w.Status = s
	return w
}

func rel(source, target string) schema.Relationship {
	return schema.Relationship{ID: source + "->" + target, Source: source, Target: target, Kind: schema.RelBlocks}
}

func statusOf(items []schema.WorkItem, id string) schema.ItemStatus {
	for _, w := range items {
		if w.ID == id {
			return w.Status
		}
	}
	return ""
}

func find(items []schema.WorkItem, id string) schema.WorkItem {
	for _, w := range items {
		if w.ID == id {
			return w
		}
	}
	return schema.WorkItem{}
}

// diamond is A(1h)->B(3h)->D(1h) and A->C(2h)->D.
func diamond() ([]schema.WorkItem, []schema.Relationship) {
	items := []schema.WorkItem{
		typed("A", "1h", schema.ItemTypeTrigger),
		item("B", "3h"),
		item("C", "2h"),
		item("D", "1h"),
	}
	rels := []schema.Relationship{rel("A", "B"), rel("A", "C"), rel("B", "D"), rel("C", "D")}
	return items, rels
}
