package diagram

import "github.com/rendis/flowmap/pkg/schema"

// NodeKind classifies a diagram node by its work item type.
type NodeKind string

const (
	NodeKindTrigger  NodeKind = "trigger"
	NodeKindAction   NodeKind = "action"
	NodeKindDecision NodeKind = "decision"
	NodeKindArtifact NodeKind = "artifact"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title        string
	Nodes        []*Node
	Edges        []Edge
	Levels       [][]string
	Stages       []*StageGroup
	CriticalPath []string
	PathMinutes  float64
}

// Node represents a single work item in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Stage    string
	Minutes  float64
	Status   *StatusOverlay
	Critical bool
	Severity schema.Severity // set only for critical path nodes
}

// StageGroup clusters the nodes that share a stage.
type StageGroup struct {
	Label   string
	NodeIDs []string
}

// StatusOverlay carries lifecycle state for a node.
type StatusOverlay struct {
	Status   schema.ItemStatus
	Progress int
}

// Edge represents a precedence relationship between two nodes.
type Edge struct {
	From     string
	To       string
	Label    string
	Critical bool
}

// node looks up a node by ID.
func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
