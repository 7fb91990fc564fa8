package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/audit"
	"github.com/coderelay/coderelay/internal/auth"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/mcptool"
	"github.com/coderelay/coderelay/internal/schedule"
	"github.com/coderelay/coderelay/internal/server"
	"github.com/coderelay/coderelay/internal/session"
	"github.com/coderelay/coderelay/internal/task"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("coderelay %s\n", server.Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coderelay: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`CodeRelay %s - Task execution server for conversational coding agents

Usage: coderelay

The server is configured entirely through environment variables:
  SERVER_HOST, SERVER_PORT, SERVER_LOG_LEVEL, SERVER_LOG_DIR
  CLAUDE_API_KEY (required), CLAUDE_BASE_URL, CLAUDE_DEFAULT_MODEL
  SESSION_MAX_CONCURRENT, SESSION_IDLE_TIMEOUT_SECONDS
  TASK_DEFAULT_TIMEOUT_SECONDS, TASK_MAX_QUEUE_SIZE
  AUTH_ENABLED, AUTH_BEARER_TOKEN
  SCHEDULE_ENABLED, SCHEDULE_DATA_DIR
`, server.Version)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	level := logger.ParseLevel(cfg.Server.LogLevel)
	if err := logger.Init(cfg.Server.LogDir, level); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}

	logger.Info("Starting CodeRelay server (version %s)", server.Version)

	runtime := agent.NewCLIRuntime(cfg.Claude.APIKey, cfg.Claude.BaseURL)
	manager := session.NewManager(runtime, session.ManagerConfig{
		MaxConcurrent:   cfg.Session.MaxConcurrent,
		IdleTimeout:     cfg.Session.IdleTimeout(),
		CleanupInterval: cfg.Session.CleanupInterval(),
		QueueSize:       cfg.Task.MaxQueueSize,
	})
	registry := task.NewRegistry()
	service := server.NewService(cfg, manager, registry)

	audit.Default().SetEnabled(true)

	handlers := server.NewHandlers(service)
	stream := server.NewStreamHandler(service)

	var scheduleHandlers *server.ScheduleHandlers
	var runner *schedule.Runner
	var store *schedule.Store
	if cfg.Schedule.Enabled {
		store, err = schedule.NewStore(cfg.Schedule.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open schedule store: %w", err)
		}
		runner = schedule.NewRunner(store, scheduleSubmit(service), service.TaskActive)
		runner.Start()
		scheduleHandlers = server.NewScheduleHandlers(store, runner)
	}

	mcpServer := mcptool.NewServer(service)

	router := server.NewRouter(server.RouterDeps{
		Config:    cfg,
		Handlers:  handlers,
		Stream:    stream,
		Schedules: scheduleHandlers,
		MCP:       mcpServer.GinHandler(),
		Limiter:   auth.DefaultRateLimiter(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Received %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error: %v", err)
	}

	if runner != nil {
		runner.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("Schedule store close error: %v", err)
		}
	}

	manager.Shutdown()
	logger.Info("Server stopped")
	return nil
}

// scheduleSubmit adapts the task service for the schedule runner. Scheduled
// tasks always run in a fresh session with the configured defaults.
func scheduleSubmit(service *server.Service) schedule.SubmitFunc {
	return func(ctx context.Context, taskID string, sched *schedule.Schedule) error {
		_, err := service.Submit(ctx, &server.SubmitRequest{
			TaskID:    taskID,
			Prompt:    sched.Prompt,
			Workspace: sched.Workspace,
		})
		return err
	}
}
