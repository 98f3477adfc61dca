package engine

import (
	"time"

	"github.com/rendis/flowmap/pkg/schema"
)

// Report is the full analysis of one map snapshot.
type Report struct {
	MapID             string                       `json:"map_id,omitempty"`
	MapName           string                       `json:"map_name,omitempty"`
	ItemCount         int                          `json:"item_count"`
	RelationshipCount int                          `json:"relationship_count"`
	TotalMinutes      float64                      `json:"total_minutes"`
	CriticalPath      *CriticalPathResult          `json:"critical_path"`
	Bottlenecks       []Bottleneck                 `json:"bottlenecks"`
	ByStage           map[string]float64           `json:"by_stage"`
	ByDepartment      map[string]float64           `json:"by_department"`
	Breakdown         map[string]float64           `json:"breakdown,omitempty"`
	Statuses          map[string]schema.ItemStatus `json:"statuses"`
	StatusCounts      map[schema.ItemStatus]int    `json:"status_counts"`
	Ready             []string                     `json:"ready"`
	Levels            [][]string                   `json:"levels"`
	Acyclic           bool                         `json:"acyclic"`
	Cycle             []string                     `json:"cycle,omitempty"`
	GeneratedAt       time.Time                    `json:"generated_at"`
}

// Analyze runs every analysis over m and stamps the report with at.
// Custom breakdowns are attached by the caller through Report.Breakdown.
func Analyze(m *schema.WorkflowMap, at time.Time) *Report {
	return AnalyzeSubset(m, m, at)
}

// AnalyzeSubset analyzes subset, a copy of m narrowed to some of its items.
// Durations, the critical path and breakdowns cover subset only. Statuses
// are derived over all of m, so an item whose predecessor was filtered out
// is still blocked by it; they are reported for subset's items only.
func AnalyzeSubset(m, subset *schema.WorkflowMap, at time.Time) *Report {
	g := BuildGraph(subset.Items, subset.Relationships)
	full := g
	if subset != m {
		full = BuildGraph(m.Items, m.Relationships)
	}
	items := g.Distinct()
	cp := CriticalPathOf(g)

	r := &Report{
		MapID:             subset.ID,
		MapName:           subset.Name,
		ItemCount:         g.Len(),
		RelationshipCount: len(subset.Relationships),
		TotalMinutes:      TotalMinutes(items),
		CriticalPath:      cp,
		Bottlenecks:       Bottlenecks(cp),
		ByStage:           ByStage(items),
		ByDepartment:      ByDepartment(items),
		Statuses:          make(map[string]schema.ItemStatus, g.Len()),
		StatusCounts:      make(map[schema.ItemStatus]int),
		Ready:             []string{},
		Levels:            Levels(g),
		GeneratedAt:       at,
	}

	for _, id := range g.Order {
		status := derive(full, id)
		r.Statuses[id] = status
		r.StatusCounts[status]++
		if status == schema.ItemStatusReady {
			r.Ready = append(r.Ready, id)
		}
	}

	r.Cycle = FindCycle(g)
	r.Acyclic = r.Cycle == nil

	return r
}

// Severest returns the bottlenecks graded at or above min, in path order.
func (r *Report) Severest(min schema.Severity) []Bottleneck {
	rank := map[schema.Severity]int{
		schema.SeverityLow:      0,
		schema.SeverityMedium:   1,
		schema.SeverityHigh:     2,
		schema.SeverityCritical: 3,
	}
	var out []Bottleneck
	for _, b := range r.Bottlenecks {
		if rank[b.Severity] >= rank[min] {
			out = append(out, b)
		}
	}
	return out
}
