package engine

import (
	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// KeyFunc derives a grouping key from an item.
type KeyFunc func(schema.WorkItem) string

// BreakdownBy sums the parsed duration of every item per key. Keys are used
// as returned, so an empty key is its own bucket. Every item counts, not only
// those on the critical path.
func BreakdownBy(items []schema.WorkItem, key KeyFunc) map[string]float64 {
	totals := make(map[string]float64)
	for _, item := range items {
		totals[key(item)] += duration.Parse(item.Duration)
	}
	return totals
}

// ByStage sums durations per stage.
func ByStage(items []schema.WorkItem) map[string]float64 {
	return BreakdownBy(items, func(w schema.WorkItem) string { return w.Stage })
}

// ByDepartment sums durations per department.
func ByDepartment(items []schema.WorkItem) map[string]float64 {
	return BreakdownBy(items, func(w schema.WorkItem) string { return w.Department })
}

// TotalMinutes sums the parsed duration of all items.
func TotalMinutes(items []schema.WorkItem) float64 {
	var total float64
	for _, item := range items {
		total += duration.Parse(item.Duration)
	}
	return total
}
