package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rendis/playbook/internal/actions"
	"github.com/rendis/playbook/internal/channel"
	"github.com/rendis/playbook/internal/engine"
	"github.com/rendis/playbook/internal/lifecycle"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/scheduler"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/streaming"
	"github.com/rendis/playbook/internal/validation"
	"github.com/rendis/playbook/pkg/mcp"
	"github.com/rendis/playbook/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := streaming.NewMemoryHub()

	provider := channel.NewSimulatedProvider(logger)
	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, provider, actions.FSConfig{WorkspaceDir: cfg.WorkspaceDir}); err != nil {
		return fmt.Errorf("registering action handlers: %w", err)
	}

	executor := engine.NewStepExecutor(registry, s, logger)
	interp, err := engine.NewInterpreter(s, executor, hub, logger, engine.InterpreterConfig{
		ResumePolicy: schema.ResumePolicy(cfg.ResumePolicy),
	})
	if err != nil {
		return fmt.Errorf("creating interpreter: %w", err)
	}

	dispatcher := engine.NewDispatcher(s, interp, cfg.PoolSize, logger)
	defer dispatcher.Shutdown()

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(s, dispatcher, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("compiling routine schema: %w", err)
	}

	srv := mcp.NewPlaybookServer(mcp.PlaybookServerDeps{
		Store:      s,
		Lifecycle:  lifecycle.NewManager(s, logger),
		Dispatcher: dispatcher,
		Interp:     interp,
		Validator:  validator,
		Hub:        hub,
		Logger:     logger,
	})

	notifier := mcp.NewMCPNotifier(srv.MCPServer(), srv.Sessions())
	bridge := mcp.NewStreamBridge(s, hub, notifier, logger)
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting stream bridge: %w", err)
	}
	defer bridge.Stop()

	logger.Info("playbook server starting",
		slog.String("db_path", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
		slog.String("resume_policy", cfg.ResumePolicy),
	)

	return srv.Serve(ctx)
}

// openStore opens the libSQL store at the configured path, or an in-memory
// store when db_path is ":memory:".
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.DBPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// newLogger builds the process logger. Logs go to stderr: stdout carries the
// MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
