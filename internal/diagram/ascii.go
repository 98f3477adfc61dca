package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/flowmap/internal/duration"
	"github.com/rendis/flowmap/pkg/schema"
)

// statusTag returns a short ASCII indicator for an item status.
func statusTag(status schema.ItemStatus) string {
	switch status {
	case schema.ItemStatusCompleted:
		return "[DONE]"
	case schema.ItemStatusInProgress:
		return "[RUN]"
	case schema.ItemStatusReady:
		return "[READY]"
	case schema.ItemStatusBlocked:
		return "[BLOCKED]"
	case schema.ItemStatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text-based diagram.
// It uses a level-based layout with box-drawing characters; critical path
// boxes are drawn with a double border.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := model.node(nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- dependencies ---\n")
		for _, edge := range model.Edges {
			arrow := "─→"
			if edge.Critical {
				arrow = "═▶"
			}
			line := fmt.Sprintf("  %s %s %s", edge.From, arrow, edge.To)
			if edge.Label != "" {
				line += "  (" + edge.Label + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(model.CriticalPath) > 0 {
		b.WriteString(fmt.Sprintf("\nCritical path (%s): %s\n",
			duration.Format(model.PathMinutes), strings.Join(model.CriticalPath, " → ")))
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}

	if node.Minutes > 0 {
		contentLines = append(contentLines, duration.Format(node.Minutes))
	}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			if node.Status.Status == schema.ItemStatusInProgress && node.Status.Progress > 0 {
				tag = fmt.Sprintf("%s %d%%", tag, node.Status.Progress)
			}
			contentLines = append(contentLines, tag)
		}
	}
	if node.Critical && node.Severity != "" && node.Severity != schema.SeverityLow {
		contentLines = append(contentLines, "!"+string(node.Severity))
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	// Light border for ordinary nodes, double border on the critical path.
	tl, tr, bl, br, h, v := "┌", "┐", "└", "┘", "─", "│"
	if node.Critical {
		tl, tr, bl, br, h, v = "╔", "╗", "╚", "╝", "═", "║"
	}

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, tl+strings.Repeat(h, width-2)+tr)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, v+" "+padded+" "+v)
	}
	lines = append(lines, bl+strings.Repeat(h, width-2)+br)

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
