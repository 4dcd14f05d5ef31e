package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/playbook/internal/diagram"
	"github.com/rendis/playbook/internal/graph"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// handleDefine registers a routine template after schema and graph validation.
func (s *PlaybookServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Marshal then unmarshal to get a typed GraphDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.GraphDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if valErr := s.validator.ValidateDefinition(&def); valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", valErr)), nil
	}
	if _, buildErr := graph.Build(&def); buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", buildErr)), nil
	}

	tpl := &schema.Template{
		ID:          uuid.NewString(),
		Key:         key,
		Name:        name,
		Description: req.GetString("description", ""),
		Category:    req.GetString("category", ""),
		Definition:  def,
	}
	if storeErr := s.store.StoreTemplate(ctx, tpl); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store template: %v", storeErr)), nil
	}

	return marshalResult(map[string]any{
		"template_id": tpl.ID,
		"key":         key,
	})
}

// handleInstantiate creates a live routine instance from a template.
func (s *PlaybookServer) handleInstantiate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateKey, err := req.RequireString("template_key")
	if err != nil {
		return mcp.NewToolResultError("template_key is required"), nil
	}
	scopeID, err := req.RequireString("scope_id")
	if err != nil {
		return mcp.NewToolResultError("scope_id is required"), nil
	}
	config := mcp.ParseStringMap(req, "config", nil)

	// Capture session mapping for notifications.
	s.captureSession(ctx, scopeID)

	tpl, tplErr := s.store.GetTemplate(ctx, templateKey)
	if tplErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("template lookup failed: %v", tplErr)), nil
	}

	routine, instErr := s.lifecycle.Instantiate(ctx, tpl, scopeID, config)
	if instErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("instantiate failed: %v", instErr)), nil
	}

	return marshalResult(map[string]any{
		"routine_id": routine.ID,
		"name":       routine.Name,
		"scope_id":   routine.ScopeID,
		"status":     routine.Status,
		"version":    routine.CurrentVersion,
	})
}

// handleDispatch fires a trigger into a scope.
func (s *PlaybookServer) handleDispatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	triggerKey, err := req.RequireString("trigger_key")
	if err != nil {
		return mcp.NewToolResultError("trigger_key is required"), nil
	}
	scopeID := req.GetString("scope_id", "")
	payload := mcp.ParseStringMap(req, "payload", nil)

	if scopeID != "" {
		s.captureSession(ctx, scopeID)
	}

	result, dispErr := s.dispatcher.Dispatch(ctx, triggerKey, scopeID, payload)
	if dispErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("dispatch failed: %v", dispErr)), nil
	}

	return marshalResult(result)
}

// handleChat delivers input to a suspended session.
func (s *PlaybookServer) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	input := schema.ResumeInput{
		Content:  req.GetString("content", ""),
		ChoiceID: req.GetString("choice_id", ""),
	}

	snap, resumeErr := s.interp.Resume(ctx, sessionID, input)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", resumeErr)), nil
	}

	return marshalResult(snap)
}

// handleStatus returns a routine's current state and its live sessions.
func (s *PlaybookServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routineID, err := req.RequireString("routine_id")
	if err != nil {
		return mcp.NewToolResultError("routine_id is required"), nil
	}

	routine, getErr := s.store.GetRoutine(ctx, routineID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("routine lookup failed: %v", getErr)), nil
	}

	out := map[string]any{
		"routine_id": routine.ID,
		"name":       routine.Name,
		"scope_id":   routine.ScopeID,
		"status":     routine.Status,
		"version":    routine.CurrentVersion,
		"sessions":   s.interp.SessionsByRoutine(routineID),
	}
	if model, diagErr := diagram.Build(routine.Name, &routine.Definition); diagErr == nil {
		out["diagram"] = diagram.RenderMermaid(model)
	}
	return marshalResult(out)
}

// handleSetStatus changes a routine's lifecycle status.
func (s *PlaybookServer) handleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routineID, err := req.RequireString("routine_id")
	if err != nil {
		return mcp.NewToolResultError("routine_id is required"), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	routine, setErr := s.lifecycle.SetStatus(ctx, routineID, schema.RoutineStatus(status))
	if setErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status change failed: %v", setErr)), nil
	}

	return marshalResult(map[string]any{
		"routine_id": routine.ID,
		"status":     routine.Status,
	})
}

// handleRollback restores an old version as a new one.
func (s *PlaybookServer) handleRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routineID, err := req.RequireString("routine_id")
	if err != nil {
		return mcp.NewToolResultError("routine_id is required"), nil
	}
	version, err := req.RequireFloat("version")
	if err != nil {
		return mcp.NewToolResultError("version is required"), nil
	}

	routine, rbErr := s.lifecycle.Rollback(ctx, routineID, int(version))
	if rbErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rollback failed: %v", rbErr)), nil
	}

	return marshalResult(map[string]any{
		"routine_id":  routine.ID,
		"new_version": routine.CurrentVersion,
	})
}

// handleQuery lists routines, executions, events, messages, or templates.
func (s *PlaybookServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "routines":
		return s.queryRoutines(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "messages":
		return s.queryMessages(ctx, filter)
	case "templates":
		return s.queryTemplates(ctx)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *PlaybookServer) queryRoutines(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RoutineFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if scopeID, ok := filter["scope_id"].(string); ok {
		rf.ScopeID = scopeID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RoutineStatus(status)
		rf.Status = &rs
	}

	routines, err := s.store.ListRoutines(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"routines": routines})
}

func (s *PlaybookServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	routineID, _ := filter["routine_id"].(string)
	if routineID == "" {
		return mcp.NewToolResultError("execution query requires 'routine_id' in filter"), nil
	}

	executions, err := s.store.ListExecutions(ctx, routineID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if limit := extractInt(filter, "limit", 0); limit > 0 && len(executions) > limit {
		executions = executions[len(executions)-limit:]
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *PlaybookServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	routineID, _ := filter["routine_id"].(string)
	if routineID == "" {
		return mcp.NewToolResultError("event query requires 'routine_id' in filter"), nil
	}

	since := int64(extractInt(filter, "since", 0))
	events, err := s.store.GetEvents(ctx, routineID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *PlaybookServer) queryMessages(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sessionID, _ := filter["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("message query requires 'session_id' in filter"), nil
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"messages": messages})
}

func (s *PlaybookServer) queryTemplates(ctx context.Context) (*mcp.CallToolResult, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"templates": templates})
}

// --- Internal helpers ---

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

// captureSession maps a scope ID to its current MCP session for notifications.
func (s *PlaybookServer) captureSession(ctx context.Context, scopeID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(scopeID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
