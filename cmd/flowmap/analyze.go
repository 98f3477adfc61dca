package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/flowmap/internal/diagram"
	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/expressions"
	"github.com/rendis/flowmap/internal/validation"
	"github.com/rendis/flowmap/internal/workspace"
	"github.com/rendis/flowmap/pkg/schema"
)

var analyzeFlags struct {
	groupBy string
	filter  string
	jq      string
	format  string
	out     string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Analyze a workflow map file",
	Long: `Analyze reads a workflow map document and prints its critical path,
bottlenecks, time breakdowns and derived statuses.

Formats: json (default), text, ascii, mermaid, png, svg. Image formats
require --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.groupBy, "group-by", "", `expr key for an extra breakdown, e.g. stage + "/" + department`)
	f.StringVar(&analyzeFlags.filter, "filter", "", `CEL predicate selecting items, e.g. item.type == "ACTION"`)
	f.StringVar(&analyzeFlags.jq, "jq", "", "jq query run over the report")
	f.StringVarP(&analyzeFlags.format, "format", "f", "json", "output format: json, text, ascii, mermaid, png, svg")
	f.StringVarP(&analyzeFlags.out, "out", "o", "", "write output to this file instead of stdout")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	m, err := loadMapFile(args[0])
	if err != nil {
		return err
	}

	format := strings.ToLower(analyzeFlags.format)
	opts := workspace.AnalyzeOptions{
		Filter:  analyzeFlags.filter,
		GroupBy: analyzeFlags.groupBy,
		JQ:      analyzeFlags.jq,
	}
	if format != "json" && format != "text" && (opts.Filter != "" || opts.JQ != "") {
		return errors.New("--filter and --jq only apply to json and text output")
	}
	if format == "png" && analyzeFlags.out == "" {
		return errors.New("png output requires --out")
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		return err
	}
	result, err := workspace.NewAnalyzer(engines).Run(cmd.Context(), m, opts)
	if err != nil {
		return err
	}

	data, err := renderAnalysis(cmd.Context(), format, m, result)
	if err != nil {
		return err
	}
	if analyzeFlags.out != "" {
		return os.WriteFile(analyzeFlags.out, data, 0o644)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func renderAnalysis(ctx context.Context, format string, m *schema.WorkflowMap, result *workspace.AnalysisResult) ([]byte, error) {
	switch format {
	case "json":
		var v any = result.Report
		if analyzeFlags.jq != "" {
			v = result.Query
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "text":
		var b strings.Builder
		writeSummary(&b, result.Report)
		return []byte(b.String()), nil
	}

	model, err := diagram.Build(m, result.Report)
	if err != nil {
		return nil, err
	}
	switch format {
	case "ascii":
		return []byte(diagram.RenderASCIIAuto(model, cfg.BinDir) + "\n"), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model) + "\n"), nil
	case "png":
		return diagram.RenderImageAs(ctx, model, diagram.ImagePNG)
	case "svg":
		return diagram.RenderImageAs(ctx, model, diagram.ImageSVG)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// writeSummary prints the headline numbers of a report.
func writeSummary(w io.Writer, r *engine.Report) {
	title := r.MapName
	if title == "" {
		title = r.MapID
	}
	fmt.Fprintf(w, "%s: %d items, %d relationships, %.0f minutes total\n",
		title, r.ItemCount, r.RelationshipCount, r.TotalMinutes)

	if !r.Acyclic {
		fmt.Fprintf(w, "cycle: %s\n", strings.Join(r.Cycle, " -> "))
	}
	if r.CriticalPath != nil && len(r.CriticalPath.Path) > 0 {
		fmt.Fprintf(w, "critical path (%.0f min): %s\n",
			r.CriticalPath.TotalMinutes, strings.Join(r.CriticalPath.Path, " -> "))
	}
	for i, b := range r.Bottlenecks {
		fmt.Fprintf(w, "  #%d %-20s %8.0f min  %5.1f%%  %s\n",
			i+1, b.ID, b.Minutes, b.Percent, b.Severity)
	}
	if len(r.Ready) > 0 {
		fmt.Fprintf(w, "ready: %s\n", strings.Join(r.Ready, ", "))
	}
	writeBreakdown(w, "by stage", r.ByStage)
	writeBreakdown(w, "by department", r.ByDepartment)
	writeBreakdown(w, "breakdown", r.Breakdown)
}

func writeBreakdown(w io.Writer, title string, minutes map[string]float64) {
	if len(minutes) == 0 {
		return
	}
	keys := make([]string, 0, len(minutes))
	for k := range minutes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %8.0f min\n", k, minutes[k])
	}
}

// loadMapFile decodes and validates a map document. Warnings are logged;
// any error makes the file unusable.
func loadMapFile(path string) (*schema.WorkflowMap, error) {
	m, result, err := decodeMapFile(path)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		logger.Warn("map warning", slog.String("path", w.Path), slog.String("message", w.Message))
	}
	if !result.Valid() {
		return nil, result.ToError()
	}
	return m, nil
}

func decodeMapFile(path string) (*schema.WorkflowMap, *schema.ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	mv, err := validation.NewMapValidator()
	if err != nil {
		return nil, nil, err
	}
	m, result := mv.Decode(raw)
	return m, result, nil
}
