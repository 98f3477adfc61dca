package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/expressions"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/pkg/schema"
)

// AnalyzeOptions narrows and post-processes an analysis.
type AnalyzeOptions struct {
	Filter  string `json:"filter,omitempty"`   // CEL predicate over item (and map); non-matching items are left out of the report
	GroupBy string `json:"group_by,omitempty"` // expr-lang key expression for an extra duration breakdown
	JQ      string `json:"jq,omitempty"`       // jq query run over the finished report
}

// AnalysisResult is a report plus the optional jq query result.
type AnalysisResult struct {
	Report *engine.Report `json:"report"`
	Query  any            `json:"query,omitempty"`
}

// Analyzer runs engine analyses with the expression hooks of AnalyzeOptions.
// It needs no store, so the CLI uses it directly on map files.
type Analyzer struct {
	engines *expressions.Engines
	now     func() time.Time
}

// NewAnalyzer creates an Analyzer over engines.
func NewAnalyzer(engines *expressions.Engines) *Analyzer {
	return &Analyzer{engines: engines, now: func() time.Time { return time.Now().UTC() }}
}

// Run analyzes m. The filter narrows the critical path, totals and
// breakdowns to matching items; statuses still follow every predecessor in
// m.
func (a *Analyzer) Run(ctx context.Context, m *schema.WorkflowMap, opts AnalyzeOptions) (*AnalysisResult, error) {
	if m == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow map is nil")
	}

	subject := m
	if opts.Filter != "" {
		filtered, err := a.engines.CEL.FilterMap(ctx, opts.Filter, m)
		if err != nil {
			return nil, err
		}
		subject = filtered
	}

	report := engine.AnalyzeSubset(m, subject, a.now())

	if opts.GroupBy != "" {
		breakdown, err := a.engines.Expr.BreakdownBy(ctx, opts.GroupBy, subject.Items)
		if err != nil {
			return nil, err
		}
		report.Breakdown = breakdown
	}

	result := &AnalysisResult{Report: report}
	if opts.JQ != "" {
		out, err := a.engines.JQ.Query(ctx, opts.JQ, report)
		if err != nil {
			return nil, err
		}
		result.Query = out
	}
	return result, nil
}

// Analyze loads a map and analyzes it.
func (w *Workspace) Analyze(ctx context.Context, mapID string, opts AnalyzeOptions) (*AnalysisResult, error) {
	m, err := w.store.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	return w.analyzer.Run(logging.WithMapID(ctx, mapID), m, opts)
}

// Snapshot analyzes a map and records the report as an analysis_snapshot
// event, giving the event log a history of how the plan evolved.
func (w *Workspace) Snapshot(ctx context.Context, mapID string) (*engine.Report, error) {
	ctx = logging.WithMapID(ctx, mapID)

	result, err := w.Analyze(ctx, mapID, AnalyzeOptions{})
	if err != nil {
		return nil, err
	}
	report := result.Report

	var payload map[string]any
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode snapshot: %s", err.Error()).WithCause(err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode snapshot: %s", err.Error()).WithCause(err)
	}

	if err := w.emit(ctx, mapID, "", schema.EventAnalysisSnapshot, payload); err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "analysis snapshot recorded",
		slog.Float64("critical_minutes", report.CriticalPath.TotalMinutes),
		slog.Int("ready", len(report.Ready)),
	)
	return report, nil
}
