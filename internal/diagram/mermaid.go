package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Stages become subgraphs and the critical path is drawn with thick links.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	staged := make(map[string]bool)
	for i, sg := range model.Stages {
		b.WriteString(fmt.Sprintf("    subgraph stage_%d[%q]\n", i, mermaidEscapeLabel(sg.Label)))
		for _, id := range sg.NodeIDs {
			if node := model.node(id); node != nil {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
				staged[id] = true
			}
		}
		b.WriteString("    end\n")
	}

	for _, node := range model.Nodes {
		if !staged[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		}
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Critical {
			arrow = "==>"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef inprogress fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef ready fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef blocked fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef pending fill:#d3d3d3,stroke:#a0a0a0,color:#000\n")

	for _, node := range model.Nodes {
		if node.Status != nil {
			if cls := mermaidStatusClass(node.Status.Status); cls != "" {
				b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
			}
		}
	}
	for _, node := range model.Nodes {
		if node.Critical {
			b.WriteString(fmt.Sprintf("    style %s stroke:%s,stroke-width:3px\n",
				mermaidSafeID(node.ID), severityColor(node.Severity)))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
// Durations are appended to the label when known.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))
	if node.Minutes > 0 {
		label += " (" + duration.Format(node.Minutes) + ")"
	}

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindArtifact:
		return fmt.Sprintf("%s[/%q/]", id, label)
	default: // action
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel replaces the double quote, which %q would otherwise
// render as a backslash escape Mermaid does not understand.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

// mermaidStatusClass maps an item status to a Mermaid class name.
func mermaidStatusClass(status schema.ItemStatus) string {
	switch status {
	case schema.ItemStatusCompleted:
		return "completed"
	case schema.ItemStatusInProgress:
		return "inprogress"
	case schema.ItemStatusReady:
		return "ready"
	case schema.ItemStatusBlocked:
		return "blocked"
	case schema.ItemStatusPending:
		return "pending"
	default:
		return ""
	}
}

// severityColor returns the outline color used for critical path nodes.
func severityColor(s schema.Severity) string {
	switch s {
	case schema.SeverityCritical:
		return "#c0392b"
	case schema.SeverityHigh:
		return "#e67e22"
	case schema.SeverityMedium:
		return "#f1c40f"
	default:
		return "#e74c3c"
	}
}
