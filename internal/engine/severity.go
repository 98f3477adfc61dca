package engine

import "github.com/rendis/flowmap/pkg/schema"

// Severity thresholds, as a percentage of the critical path total.
const (
	mediumThreshold   = 30.0
	highThreshold     = 40.0
	criticalThreshold = 50.0
)

// Classify grades an item by its share of the critical path total.
// A zero total grades everything LOW.
func Classify(itemMinutes, pathMinutes float64) schema.Severity {
	if pathMinutes <= 0 {
		return schema.SeverityLow
	}
	ratio := itemMinutes / pathMinutes * 100
	switch {
	case ratio >= criticalThreshold:
		return schema.SeverityCritical
	case ratio >= highThreshold:
		return schema.SeverityHigh
	case ratio >= mediumThreshold:
		return schema.SeverityMedium
	default:
		return schema.SeverityLow
	}
}

// Bottleneck is a critical path item with its share of the path total.
type Bottleneck struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Minutes  float64         `json:"minutes"`
	Percent  float64         `json:"percent"`
	Severity schema.Severity `json:"severity"`
}

// Bottlenecks grades every node on the critical path, in path order.
func Bottlenecks(cp *CriticalPathResult) []Bottleneck {
	out := make([]Bottleneck, 0, len(cp.Nodes))
	for _, n := range cp.Nodes {
		var pct float64
		if cp.TotalMinutes > 0 {
			pct = n.Duration / cp.TotalMinutes * 100
		}
		out = append(out, Bottleneck{
			ID:       n.ID,
			Label:    n.Label,
			Minutes:  n.Duration,
			Percent:  pct,
			Severity: Classify(n.Duration, cp.TotalMinutes),
		})
	}
	return out
}
