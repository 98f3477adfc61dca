// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/flowmap/internal/diagram"
	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/pkg/schema"
)

func main() {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	done := started.Add(4 * time.Hour)

	// Product launch: brief -> (design, api) -> review? -> build -> launch kit -> release
	m := &schema.WorkflowMap{
		ID:   "product-launch",
		Name: "Product Launch",
		Items: []schema.WorkItem{
			{ID: "brief", Label: "Launch brief", Type: schema.ItemTypeTrigger, Stage: "Plan", Department: "PM", Duration: "4h",
				Status: schema.ItemStatusCompleted, Progress: 100, StartedAt: &started, CompletedAt: &done},
			{ID: "design", Label: "UI design", Type: schema.ItemTypeAction, Stage: "Design", Department: "UX", Duration: "3d",
				Status: schema.ItemStatusInProgress, Progress: 40, StartedAt: &done},
			{ID: "api", Label: "API contract", Type: schema.ItemTypeAction, Stage: "Design", Department: "Engineering", Duration: "1d"},
			{ID: "review", Label: "Design review", Type: schema.ItemTypeDecision, Stage: "Design", Department: "PM", Duration: "2h"},
			{ID: "build", Label: "Build", Type: schema.ItemTypeAction, Stage: "Build", Department: "Engineering", Duration: "5d"},
			{ID: "kit", Label: "Launch kit", Type: schema.ItemTypeArtifact, Stage: "Ship", Department: "Marketing", Duration: "2d"},
			{ID: "release", Label: "Release", Type: schema.ItemTypeAction, Stage: "Ship", Department: "Engineering", Duration: "45m"},
		},
		Relationships: []schema.Relationship{
			{ID: "r1", Source: "brief", Target: "design", Kind: schema.RelTrigger},
			{ID: "r2", Source: "brief", Target: "api", Kind: schema.RelTrigger},
			{ID: "r3", Source: "design", Target: "review", Kind: schema.RelBlocks},
			{ID: "r4", Source: "api", Target: "review", Kind: schema.RelBlocks},
			{ID: "r5", Source: "review", Target: "build", Kind: schema.RelRequires, Label: "approved"},
			{ID: "r6", Source: "review", Target: "kit", Kind: schema.RelBlocks},
			{ID: "r7", Source: "build", Target: "release", Kind: schema.RelBlocks},
			{ID: "r8", Source: "kit", Target: "release", Kind: schema.RelBlocks},
		},
	}

	report := engine.Analyze(m, time.Now().UTC())
	model, err := diagram.Build(m, report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	// ASCII (mermaid-ascii with the built-in fallback)
	home, _ := os.UserHomeDir()
	binDir := filepath.Join(home, ".flowmap", "bin")
	ascii := diagram.RenderASCIIAuto(model, binDir)
	os.WriteFile(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii), 0o644)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, imgErr := diagram.RenderImage(context.Background(), model)
	if imgErr != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
		return
	}
	pngPath := filepath.Join(outDir, "diagram-sample.png")
	os.WriteFile(pngPath, png, 0o644)
	fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
	fmt.Printf("critical path: %v (%.0f min)\n", report.CriticalPath.Path, report.CriticalPath.TotalMinutes)
}
