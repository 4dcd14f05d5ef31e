package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/lifecycle"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/streaming"
	"github.com/rendis/playbook/internal/validation"
)

// PlaybookServerDeps holds the dependencies for creating a PlaybookServer.
type PlaybookServerDeps struct {
	Store      store.Store
	Lifecycle  *lifecycle.Manager
	Dispatcher *engine.Dispatcher
	Interp     *engine.Interpreter
	Validator  validation.Validator
	Hub        streaming.EventHub
	Logger     *slog.Logger
}

// PlaybookServer wraps an MCP server with playbook-specific tool handlers.
type PlaybookServer struct {
	store      store.Store
	lifecycle  *lifecycle.Manager
	dispatcher *engine.Dispatcher
	interp     *engine.Interpreter
	validator  validation.Validator
	hub        streaming.EventHub
	logger     *slog.Logger
	sessions   *SessionRegistry
	mcpServer  *server.MCPServer
}

// NewPlaybookServer creates a new PlaybookServer with all 8 tools registered.
func NewPlaybookServer(deps PlaybookServerDeps) *PlaybookServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &PlaybookServer{
		store:      deps.Store,
		lifecycle:  deps.Lifecycle,
		dispatcher: deps.Dispatcher,
		interp:     deps.Interp,
		validator:  deps.Validator,
		hub:        deps.Hub,
		logger:     logger,
		sessions:   NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"playbook",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Playbook runs automated business routines. Use playbook.define to register routine templates, playbook.instantiate to create live instances, playbook.dispatch to fire triggers, playbook.chat to answer a waiting routine, playbook.status / playbook.set_status / playbook.rollback to manage instances, and playbook.query to list routines, executions, or templates."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes.
func (s *PlaybookServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PlaybookServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the scope-to-session registry used for push notifications.
func (s *PlaybookServer) Sessions() *SessionRegistry {
	return s.sessions
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *PlaybookServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: instantiateTool(), Handler: s.handleInstantiate},
		{Tool: dispatchTool(), Handler: s.handleDispatch},
		{Tool: chatTool(), Handler: s.handleChat},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: setStatusTool(), Handler: s.handleSetStatus},
		{Tool: rollbackTool(), Handler: s.handleRollback},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("playbook.define",
		mcp.WithDescription("Register a reusable routine template"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Unique template key")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable template name")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Routine graph definition (steps + edges)")),
		mcp.WithString("description", mcp.Description("Template description")),
		mcp.WithString("category", mcp.Description("Template category")),
	)
}

func instantiateTool() mcp.Tool {
	return mcp.NewTool("playbook.instantiate",
		mcp.WithDescription("Create a live routine instance from a template"),
		mcp.WithString("template_key", mcp.Required(), mcp.Description("Key of the template to instantiate")),
		mcp.WithString("scope_id", mcp.Required(), mcp.Description("Scope the instance belongs to (e.g. a client)")),
		mcp.WithObject("config", mcp.Description("Instance configuration, resolved into the template's {{config.*}} placeholders")),
	)
}

func dispatchTool() mcp.Tool {
	return mcp.NewTool("playbook.dispatch",
		mcp.WithDescription("Fire a trigger into a scope; all matching active routines start a run"),
		mcp.WithString("trigger_key", mcp.Required(), mcp.Description("Trigger key to fire")),
		mcp.WithString("scope_id", mcp.Description("Scope to dispatch into")),
		mcp.WithObject("payload", mcp.Description("Trigger payload, reachable as {{payload.*}}")),
	)
}

func chatTool() mcp.Tool {
	return mcp.NewTool("playbook.chat",
		mcp.WithDescription("Deliver input to a suspended interactive run"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the suspended session")),
		mcp.WithString("content", mcp.Description("Free-form user input")),
		mcp.WithString("choice_id", mcp.Description("Selected button ID")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("playbook.status",
		mcp.WithDescription("Get a routine instance's status, version, and live sessions"),
		mcp.WithString("routine_id", mcp.Required(), mcp.Description("ID of the routine instance")),
	)
}

func setStatusTool() mcp.Tool {
	return mcp.NewTool("playbook.set_status",
		mcp.WithDescription("Change a routine instance's lifecycle status"),
		mcp.WithString("routine_id", mcp.Required(), mcp.Description("ID of the routine instance")),
		mcp.WithString("status", mcp.Required(),
			mcp.Enum("active", "paused", "archived"),
			mcp.Description("Target status"),
		),
	)
}

func rollbackTool() mcp.Tool {
	return mcp.NewTool("playbook.rollback",
		mcp.WithDescription("Restore an old version of a routine as a new version; history is kept"),
		mcp.WithString("routine_id", mcp.Required(), mcp.Description("ID of the routine instance")),
		mcp.WithNumber("version", mcp.Required(), mcp.Description("Version to restore")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("playbook.query",
		mcp.WithDescription("Query routines, executions, events, messages, or templates"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("routines", "executions", "events", "messages", "templates"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (scope_id, status, limit, routine_id, session_id, since)")),
	)
}
