package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const launchDoc = `{
  "id": "launch",
  "name": "Launch",
  "items": [
    {"id": "kickoff", "label": "Kickoff", "type": "TRIGGER", "duration": "1h", "stage": "plan", "department": "pm"},
    {"id": "design", "label": "Design", "type": "ACTION", "duration": "2h", "stage": "make", "department": "ux"},
    {"id": "build", "label": "Build", "type": "ACTION", "duration": "1d", "stage": "make", "department": "eng"},
    {"id": "release", "label": "Release", "type": "ARTIFACT", "duration": "30m", "stage": "ship", "department": "eng"}
  ],
  "relationships": [
    {"id": "r1", "source": "kickoff", "target": "design", "kind": "TRIGGER"},
    {"id": "r2", "source": "kickoff", "target": "build", "kind": "TRIGGER"},
    {"id": "r3", "source": "design", "target": "release", "kind": "BLOCKS"},
    {"id": "r4", "source": "build", "target": "release", "kind": "BLOCKS"}
  ]
}`

const cyclicDoc = `{
  "name": "Loop",
  "items": [
    {"id": "a", "type": "TRIGGER"},
    {"id": "b", "type": "ACTION"},
    {"id": "c", "type": "ACTION"}
  ],
  "relationships": [
    {"source": "a", "target": "b", "kind": "BLOCKS"},
    {"source": "b", "target": "c", "kind": "BLOCKS"},
    {"source": "c", "target": "b", "kind": "FEEDBACK_TO"}
  ]
}`

func writeMapFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// runCLI executes the root command with args and returns its output.
// Command flag state is reset first since the commands are package globals.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	isolateHome(t)

	analyzeFlags.groupBy = ""
	analyzeFlags.filter = ""
	analyzeFlags.jq = ""
	analyzeFlags.out = ""
	analyzeFlags.format = "json"
	validateJSON = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAnalyzeCmd_JSON(t *testing.T) {
	out, err := runCLI(t, "analyze", writeMapFile(t, launchDoc))
	require.NoError(t, err)

	var report struct {
		MapID        string `json:"map_id"`
		CriticalPath struct {
			Path         []string `json:"path"`
			TotalMinutes float64  `json:"total_minutes"`
		} `json:"critical_path"`
		ByDepartment map[string]float64 `json:"by_department"`
		Ready        []string           `json:"ready"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "launch", report.MapID)
	assert.Equal(t, []string{"kickoff", "build", "release"}, report.CriticalPath.Path)
	assert.Equal(t, 1530.0, report.CriticalPath.TotalMinutes)
	assert.Equal(t, map[string]float64{"pm": 60, "ux": 120, "eng": 1470}, report.ByDepartment)
	assert.Equal(t, []string{"kickoff"}, report.Ready)
}

func TestAnalyzeCmd_JQAndGroupBy(t *testing.T) {
	path := writeMapFile(t, launchDoc)

	out, err := runCLI(t, "analyze", path, "--jq", ".critical_path.path")
	require.NoError(t, err)
	assert.JSONEq(t, `["kickoff", "build", "release"]`, out)

	out, err = runCLI(t, "analyze", path, "--group-by", `stage + "/" + department`, "--jq", ".breakdown")
	require.NoError(t, err)
	assert.JSONEq(t, `{"plan/pm": 60, "make/ux": 120, "make/eng": 1440, "ship/eng": 30}`, out)
}

func TestAnalyzeCmd_Filter(t *testing.T) {
	out, err := runCLI(t, "analyze", writeMapFile(t, launchDoc),
		"--filter", `item.department == "eng"`, "--jq", ".item_count")
	require.NoError(t, err)
	assert.JSONEq(t, `2`, out)
}

func TestAnalyzeCmd_Text(t *testing.T) {
	out, err := runCLI(t, "analyze", writeMapFile(t, launchDoc), "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Launch: 4 items, 4 relationships, 1650 minutes total")
	assert.Contains(t, out, "critical path (1530 min): kickoff -> build -> release")
	assert.Contains(t, out, "ready: kickoff")
	assert.Contains(t, out, "by department:")
}

func TestAnalyzeCmd_Diagrams(t *testing.T) {
	path := writeMapFile(t, launchDoc)

	out, err := runCLI(t, "analyze", path, "--format", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "Kickoff")

	out, err = runCLI(t, "analyze", path, "--format", "ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Launch ===")

	_, err = runCLI(t, "analyze", path, "--format", "mermaid", "--jq", ".ready")
	assert.Error(t, err)

	_, err = runCLI(t, "analyze", path, "--format", "png")
	assert.EqualError(t, err, "png output requires --out")

	_, err = runCLI(t, "analyze", path, "--format", "pdf")
	assert.Error(t, err)
}

func TestAnalyzeCmd_SVGToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "launch.svg")
	out, err := runCLI(t, "analyze", writeMapFile(t, launchDoc), "--format", "svg", "--out", dest)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestAnalyzeCmd_InvalidMap(t *testing.T) {
	_, err := runCLI(t, "analyze", writeMapFile(t, cyclicDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")

	_, err = runCLI(t, "analyze", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = runCLI(t, "analyze")
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	out, err := runCLI(t, "validate", writeMapFile(t, launchDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 4 items, 4 relationships")

	out, err = runCLI(t, "validate", writeMapFile(t, cyclicDoc))
	assert.EqualError(t, err, "map is invalid")
	assert.Contains(t, out, "error ")
	assert.Contains(t, out, "CYCLE_DETECTED")
}

func TestValidateCmd_JSON(t *testing.T) {
	doc := `{"items": [
	  {"id": "a", "type": "TRIGGER"},
	  {"id": "b", "type": "ACTION", "status": "COMPLETED"}
	], "relationships": [{"source": "a", "target": "b", "kind": "BLOCKS"}]}`

	out, err := runCLI(t, "validate", "--json", writeMapFile(t, doc))
	require.NoError(t, err)

	var result struct {
		Errors   []map[string]any `json:"errors"`
		Warnings []map[string]any `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Empty(t, result.Errors)
	require.NotEmpty(t, result.Warnings)
	assert.Equal(t, "warning", result.Warnings[0]["level"])
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestInstallCmd_SkipTools(t *testing.T) {
	out, err := runCLI(t, "install", "--skip-tools", "--scheduler=false", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to")

	cfg := loadConfig()
	assert.False(t, cfg.Scheduler)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(flowmapDir(), "flowmap.db"), cfg.DBPath)
}
