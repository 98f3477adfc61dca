package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowmap/internal/diagram"
	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/identity"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/workspace"
	"github.com/rendis/flowmap/pkg/schema"
)

// handleDefine stores a new workflow map.
func (s *FlowmapServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	raw := mcp.ParseStringMap(req, "map", nil)
	if raw == nil {
		return mcp.NewToolResultError("map is required"), nil
	}

	var m schema.WorkflowMap
	if decodeErr := decodeArg(raw, &m); decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid map: %v", decodeErr)), nil
	}

	ctx, regErr := s.agentContext(ctx, agentID)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}

	stored, defErr := s.ws.Define(ctx, &m)
	if defErr != nil {
		return toolError("define", defErr), nil
	}
	s.sessions.Watch(stored.ID, agentID)
	return marshalResult(mapResult(stored))
}

// handleItem adds or removes a work item.
func (s *FlowmapServer) handleItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, err := req.RequireString("map_id")
	if err != nil {
		return mcp.NewToolResultError("map_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	agentID := req.GetString("agent_id", "")
	ctx, regErr := s.agentContext(ctx, agentID)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}
	s.sessions.Watch(mapID, agentID)

	var m *schema.WorkflowMap
	var opErr error
	switch action {
	case "add":
		raw := mcp.ParseStringMap(req, "item", nil)
		if raw == nil {
			return mcp.NewToolResultError("item is required to add"), nil
		}
		var item schema.WorkItem
		if decodeErr := decodeArg(raw, &item); decodeErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid item: %v", decodeErr)), nil
		}
		m, opErr = s.ws.AddItem(ctx, mapID, item)
	case "remove":
		itemID := req.GetString("item_id", "")
		if itemID == "" {
			return mcp.NewToolResultError("item_id is required to remove"), nil
		}
		m, opErr = s.ws.RemoveItem(ctx, mapID, itemID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown item action: %s", action)), nil
	}
	if opErr != nil {
		return toolError(action+" item", opErr), nil
	}
	return marshalResult(mapResult(m))
}

// handleLink adds or removes a relationship.
func (s *FlowmapServer) handleLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, err := req.RequireString("map_id")
	if err != nil {
		return mcp.NewToolResultError("map_id is required"), nil
	}

	agentID := req.GetString("agent_id", "")
	ctx, regErr := s.agentContext(ctx, agentID)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}
	s.sessions.Watch(mapID, agentID)

	switch action := req.GetString("action", "link"); action {
	case "link":
		source := req.GetString("source", "")
		target := req.GetString("target", "")
		if source == "" || target == "" {
			return mcp.NewToolResultError("source and target are required to link"), nil
		}
		m, linkErr := s.ws.Link(ctx, mapID, schema.Relationship{
			Source: source,
			Target: target,
			Kind:   schema.RelationshipKind(req.GetString("kind", "")),
			Label:  req.GetString("label", ""),
		})
		if linkErr != nil {
			return toolError("link", linkErr), nil
		}
		return marshalResult(mapResult(m))
	case "unlink":
		relID := req.GetString("relationship_id", "")
		if relID == "" {
			return mcp.NewToolResultError("relationship_id is required to unlink"), nil
		}
		m, unlinkErr := s.ws.Unlink(ctx, mapID, relID)
		if unlinkErr != nil {
			return toolError("unlink", unlinkErr), nil
		}
		return marshalResult(mapResult(m))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown link action: %s", action)), nil
	}
}

// handleTransition starts or completes a work item. Items unblocked by a
// completion are pushed to the map owner when another agent completed it.
func (s *FlowmapServer) handleTransition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, err := req.RequireString("map_id")
	if err != nil {
		return mcp.NewToolResultError("map_id is required"), nil
	}
	itemID, err := req.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("item_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	agentID := req.GetString("agent_id", "")
	ctx, regErr := s.agentContext(ctx, agentID)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}
	s.sessions.Watch(mapID, agentID)

	switch action {
	case "start":
		m, startErr := s.ws.Start(ctx, mapID, itemID)
		if startErr != nil {
			return toolError("start", startErr), nil
		}
		return marshalResult(mapResult(m))
	case "complete":
		var readyBefore []string
		if before, getErr := s.ws.Get(ctx, mapID); getErr == nil {
			readyBefore = engine.ReadyItems(before.Items, before.Relationships)
		}
		m, completeErr := s.ws.Complete(ctx, mapID, itemID)
		if completeErr != nil {
			return toolError("complete", completeErr), nil
		}
		res := mapResult(m)
		if unblocked := newlyReady(readyBefore, res.Ready); len(unblocked) > 0 {
			res.Unblocked = unblocked
			s.notifyWatchers(ctx, m, agentID, itemID, unblocked)
		}
		return marshalResult(res)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown transition: %s", action)), nil
	}
}

// handleAnalyze runs an analysis with optional filter, grouping and jq query.
func (s *FlowmapServer) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, err := req.RequireString("map_id")
	if err != nil {
		return mcp.NewToolResultError("map_id is required"), nil
	}

	opts := workspace.AnalyzeOptions{
		Filter:  req.GetString("filter", ""),
		GroupBy: req.GetString("group_by", ""),
		JQ:      req.GetString("jq", ""),
	}
	result, analyzeErr := s.ws.Analyze(ctx, mapID, opts)
	if analyzeErr != nil {
		return toolError("analyze", analyzeErr), nil
	}

	if req.GetBool("snapshot", false) {
		if _, snapErr := s.ws.Snapshot(ctx, mapID); snapErr != nil {
			return toolError("snapshot", snapErr), nil
		}
	}

	if opts.JQ != "" {
		return marshalResult(map[string]any{"query": result.Query})
	}
	return marshalResult(result)
}

// handleQuery lists maps, events, or report jobs based on filters.
func (s *FlowmapServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "maps":
		return s.queryMaps(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "jobs":
		return s.queryJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram renders a stored map in the requested format.
func (s *FlowmapServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, err := req.RequireString("map_id")
	if err != nil {
		return mcp.NewToolResultError("map_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	m, getErr := s.ws.Get(ctx, mapID)
	if getErr != nil {
		return toolError("diagram", getErr), nil
	}
	result, analyzeErr := s.ws.Analyzer().Run(ctx, m, workspace.AnalyzeOptions{})
	if analyzeErr != nil {
		return toolError("diagram", analyzeErr), nil
	}

	model, buildErr := diagram.Build(m, result.Report)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCIIAuto(model, s.binDir)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleSchedule manages report jobs.
func (s *FlowmapServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is disabled"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	agentID := req.GetString("agent_id", "")
	ctx, regErr := s.agentContext(ctx, agentID)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}

	if action == "create" {
		mapID := req.GetString("map_id", "")
		cronExpr := req.GetString("cron", "")
		if mapID == "" || cronExpr == "" {
			return mcp.NewToolResultError("map_id and cron are required to create a job"), nil
		}
		job, schedErr := s.scheduler.Schedule(ctx, mapID, cronExpr, agentID)
		if schedErr != nil {
			return toolError("schedule", schedErr), nil
		}
		return marshalResult(job)
	}

	jobID := req.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	var opErr error
	switch action {
	case "enable":
		opErr = s.scheduler.SetEnabled(ctx, jobID, true)
	case "disable":
		opErr = s.scheduler.SetEnabled(ctx, jobID, false)
	case "delete":
		opErr = s.scheduler.Unschedule(ctx, jobID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown schedule action: %s", action)), nil
	}
	if opErr != nil {
		return toolError(action, opErr), nil
	}
	return marshalResult(map[string]any{"ok": true, "job_id": jobID, "action": action})
}

// --- Query helpers ---

func (s *FlowmapServer) queryMaps(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	mf := store.MapFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if agentID, ok := filter["agent_id"].(string); ok {
		mf.AgentID = agentID
	}
	if name, ok := filter["name"].(string); ok {
		mf.Name = name
	}

	maps, err := s.ws.List(ctx, mf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"maps": nonNilSlice(maps)})
}

func (s *FlowmapServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if mapID, ok := filter["map_id"].(string); ok {
		ef.MapID = mapID
	}
	if itemID, ok := filter["item_id"].(string); ok {
		ef.ItemID = itemID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		events, err := s.ws.EventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": nonNilSlice(events)})
	}

	if ef.MapID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'map_id' in filter"), nil
	}
	after := int64(extractInt(filter, "after_sequence", 0))
	wait := time.Duration(extractInt(filter, "wait_seconds", 0)) * time.Second
	events, err := s.ws.WaitEvents(ctx, ef.MapID, after, wait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": nonNilSlice(events)})
}

func (s *FlowmapServer) queryJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is disabled"), nil
	}
	jf := store.ReportJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if mapID, ok := filter["map_id"].(string); ok {
		jf.MapID = mapID
	}
	if agentID, ok := filter["agent_id"].(string); ok {
		jf.AgentID = agentID
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}

	jobs, err := s.scheduler.Jobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"jobs": nonNilSlice(jobs)})
}

// --- Internal helpers ---

// mapSummary is the compact result of every map-changing tool.
type mapSummary struct {
	MapID     string                       `json:"map_id"`
	Version   int64                        `json:"version"`
	Statuses  map[string]schema.ItemStatus `json:"statuses"`
	Ready     []string                     `json:"ready"`
	Unblocked []string                     `json:"unblocked,omitempty"`
}

func mapResult(m *schema.WorkflowMap) *mapSummary {
	statuses := make(map[string]schema.ItemStatus, len(m.Items))
	for _, item := range m.Items {
		statuses[item.ID] = item.Status
	}
	return &mapSummary{
		MapID:    m.ID,
		Version:  m.Version,
		Statuses: statuses,
		Ready:    nonNilSlice(engine.ReadyItems(m.Items, m.Relationships)),
	}
}

func newlyReady(before, after []string) []string {
	was := make(map[string]bool, len(before))
	for _, id := range before {
		was[id] = true
	}
	var out []string
	for _, id := range after {
		if !was[id] {
			out = append(out, id)
		}
	}
	return out
}

// notifyWatchers tells the map's owner and every other agent that worked on
// it which items became READY. Best-effort: failures are logged, never
// returned.
func (s *FlowmapServer) notifyWatchers(ctx context.Context, m *schema.WorkflowMap, actor, itemID string, unblocked []string) {
	for _, agentID := range s.sessions.Recipients(m.ID, m.AgentID, actor) {
		err := s.notifier.Notify(ctx, agentID, map[string]any{
			"type":         schema.EventItemsUnblocked,
			"map_id":       m.ID,
			"completed":    itemID,
			"completed_by": actor,
			"item_ids":     unblocked,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "notify agent failed",
				slog.String("recipient", agentID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// agentContext registers agentID, remembers its MCP session for
// notifications and tags ctx so recorded events carry the agent.
// An empty agentID leaves ctx untouched.
func (s *FlowmapServer) agentContext(ctx context.Context, agentID string) (context.Context, error) {
	if agentID == "" {
		return ctx, nil
	}
	if err := s.ensureAgent(ctx, agentID); err != nil {
		return ctx, err
	}
	s.captureSession(ctx, agentID)
	return logging.WithAgentID(ctx, agentID), nil
}

// ensureAgent registers agentID on first use and touches it afterwards.
func (s *FlowmapServer) ensureAgent(ctx context.Context, agentID string) error {
	if s.store == nil {
		return identity.ValidateID(agentID)
	}
	_, err := identity.Ensure(ctx, s.store, agentID, identity.KindLLM)
	return err
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *FlowmapServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// toolError renders err as a tool error. A refused completion lists every
// blocking predecessor by label.
func toolError(op string, err error) *mcp.CallToolResult {
	var prereq *schema.PrerequisiteError
	if errors.As(err, &prereq) {
		return mcp.NewToolResultError(fmt.Sprintf("%s refused: %q is waiting on %s",
			op, prereq.ItemLabel, strings.Join(prereq.Labels(), ", ")))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

// decodeArg converts a generic tool argument into a typed value.
func decodeArg(raw map[string]any, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
