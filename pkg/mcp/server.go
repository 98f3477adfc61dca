package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowmap/internal/scheduler"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/workspace"
)

// FlowmapServerDeps holds the dependencies for creating a FlowmapServer.
type FlowmapServerDeps struct {
	Workspace *workspace.Workspace
	Store     store.Store
	Scheduler *scheduler.Scheduler // nil disables flowmap.schedule
	Notifier  AgentNotifier        // nil uses MCP push to the map owner's session
	Logger    *slog.Logger
	// MermaidASCIIBin is the directory holding the mermaid-ascii binary used
	// for ascii diagrams. Empty falls back to the built-in renderer.
	MermaidASCIIBin string
}

// FlowmapServer wraps an MCP server with flowmap tool handlers.
type FlowmapServer struct {
	ws        *workspace.Workspace
	store     store.Store
	scheduler *scheduler.Scheduler
	notifier  AgentNotifier
	sessions  *SessionRegistry
	logger    *slog.Logger
	binDir    string
	mcpServer *server.MCPServer
}

// NewFlowmapServer creates a FlowmapServer with every tool registered.
func NewFlowmapServer(deps FlowmapServerDeps) *FlowmapServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowmapServer{
		ws:        deps.Workspace,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		sessions:  NewSessionRegistry(),
		logger:    logger,
		binDir:    deps.MermaidASCIIBin,
	}

	mcpSrv := server.NewMCPServer(
		"flowmap",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowmap tracks workflow maps: work items linked by dependencies. "+
			"Use flowmap.define to store a map, flowmap.item and flowmap.link to edit it, "+
			"flowmap.transition to start or complete items, flowmap.analyze for the critical path and breakdowns, "+
			"flowmap.diagram to draw it, flowmap.query to list maps, events or report jobs, "+
			"and flowmap.schedule for recurring analysis snapshots."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	s.notifier = deps.Notifier
	if s.notifier == nil {
		s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowmapServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowmapServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowmapServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: itemTool(), Handler: s.handleItem},
		{Tool: linkTool(), Handler: s.handleLink},
		{Tool: transitionTool(), Handler: s.handleTransition},
		{Tool: analyzeTool(), Handler: s.handleAnalyze},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("flowmap.define",
		mcp.WithDescription("Store a new workflow map of work items and relationships"),
		mcp.WithObject("map", mcp.Required(), mcp.Description("Workflow map document: {id?, name, description?, items: [...], relationships: [...]}")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the defining agent")),
	)
}

func itemTool() mcp.Tool {
	return mcp.NewTool("flowmap.item",
		mcp.WithDescription("Add or remove a work item"),
		mcp.WithString("map_id", mcp.Required(), mcp.Description("ID of the map to edit")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("add", "remove"),
			mcp.Description("add a new item or remove an existing one with its relationships"),
		),
		mcp.WithObject("item", mcp.Description("Work item for add: {id?, label, type, stage, department, duration}")),
		mcp.WithString("item_id", mcp.Description("Item to remove")),
		mcp.WithString("agent_id", mcp.Description("ID of the editing agent")),
	)
}

func linkTool() mcp.Tool {
	return mcp.NewTool("flowmap.link",
		mcp.WithDescription("Add or remove a dependency between two work items"),
		mcp.WithString("map_id", mcp.Required(), mcp.Description("ID of the map to edit")),
		mcp.WithString("action", mcp.Enum("link", "unlink"), mcp.Description("link (default) or unlink")),
		mcp.WithString("source", mcp.Description("Item that must finish first")),
		mcp.WithString("target", mcp.Description("Item that waits for source")),
		mcp.WithString("kind",
			mcp.Enum("TRIGGER", "BLOCKS", "REQUIRES", "FEEDBACK_TO"),
			mcp.Description("Relationship kind (default BLOCKS)"),
		),
		mcp.WithString("label", mcp.Description("Edge label")),
		mcp.WithString("relationship_id", mcp.Description("Relationship to remove when unlinking")),
		mcp.WithString("agent_id", mcp.Description("ID of the editing agent")),
	)
}

func transitionTool() mcp.Tool {
	return mcp.NewTool("flowmap.transition",
		mcp.WithDescription("Start or complete a work item"),
		mcp.WithString("map_id", mcp.Required(), mcp.Description("ID of the map")),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("ID of the work item")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("start", "complete"),
			mcp.Description("start a READY item or complete one whose predecessors are done"),
		),
		mcp.WithString("agent_id", mcp.Description("ID of the acting agent")),
	)
}

func analyzeTool() mcp.Tool {
	return mcp.NewTool("flowmap.analyze",
		mcp.WithDescription("Analyze a map: critical path, bottlenecks, time breakdowns and statuses"),
		mcp.WithString("map_id", mcp.Required(), mcp.Description("ID of the map")),
		mcp.WithString("filter", mcp.Description(`CEL predicate selecting items before analysis, e.g. item.type == "ACTION"`)),
		mcp.WithString("group_by", mcp.Description(`expr key for an extra duration breakdown, e.g. stage + "/" + department`)),
		mcp.WithString("jq", mcp.Description("jq query run over the report, e.g. .critical_path.path")),
		mcp.WithBoolean("snapshot", mcp.Description("Record the report as an analysis_snapshot event")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowmap.query",
		mcp.WithDescription("Query maps, events, or report jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("maps", "events", "jobs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (map_id, item_id, agent_id, name, event_type, since, limit, enabled). "+
			"Events of one map accept after_sequence and wait_seconds to block until newer events arrive")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowmap.diagram",
		mcp.WithDescription("Draw a map with statuses and the critical path. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("map_id", mcp.Required(), mcp.Description("ID of the map")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("flowmap.schedule",
		mcp.WithDescription("Manage cron-driven analysis snapshots of a map"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "enable", "disable", "delete"),
			mcp.Description("Operation on report jobs"),
		),
		mcp.WithString("map_id", mcp.Description("Map to snapshot (create)")),
		mcp.WithString("cron", mcp.Description("Five-field cron expression or descriptor such as @hourly (create)")),
		mcp.WithString("job_id", mcp.Description("Report job (enable, disable, delete)")),
		mcp.WithString("agent_id", mcp.Description("ID of the scheduling agent")),
	)
}
