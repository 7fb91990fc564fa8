// Package server exposes the task execution service over HTTP, WebSocket,
// and MCP.
//
// service.go - Task service
//
// The service layer owns submission, status, and interrupt semantics. The
// HTTP handlers, the MCP tools, and the schedule runner all go through it.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/audit"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/session"
	"github.com/coderelay/coderelay/internal/task"
)

// ErrDuplicateTask is returned when submitting a task id that is already
// registered.
var ErrDuplicateTask = errors.New("task id already exists")

// ErrTaskNotFound is returned for status or interrupt on an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// Version is the server version reported by the health endpoint.
const Version = "1.0.0"

// Service mediates between the API surfaces and the session manager.
type Service struct {
	cfg       *config.Config
	manager   *session.Manager
	registry  *task.Registry
	startTime time.Time
}

// NewService wires the service over its collaborators.
func NewService(cfg *config.Config, manager *session.Manager, registry *task.Registry) *Service {
	return &Service{
		cfg:       cfg,
		manager:   manager,
		registry:  registry,
		startTime: time.Now(),
	}
}

// TaskOptions are the per-task execution options.
type TaskOptions struct {
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	MaxTurns       int      `json:"max_turns,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	Model          string   `json:"model,omitempty"`
	Cwd            string   `json:"cwd,omitempty"`
}

// SessionSelector chooses between reusing a live session and creating one.
type SessionSelector struct {
	ReuseExisting bool   `json:"reuse_existing,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// SubmitRequest is a validated task submission.
type SubmitRequest struct {
	TaskID    string          `json:"task_id" binding:"required"`
	Prompt    string          `json:"prompt" binding:"required"`
	Workspace string          `json:"workspace" binding:"required"`
	Options   TaskOptions     `json:"options"`
	Session   SessionSelector `json:"session"`
}

// SubmitResult describes an accepted task.
type SubmitResult struct {
	TaskID    string      `json:"task_id"`
	SessionID string      `json:"session_id"`
	Status    task.Status `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// TaskStatus is the full status view of a task.
type TaskStatus struct {
	TaskID    string        `json:"task_id"`
	SessionID string        `json:"session_id"`
	Status    task.Status   `json:"status"`
	Progress  task.Progress `json:"progress"`
	Result    *task.Result  `json:"result,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Submit resolves a session, registers the task, and starts the executor in
// the background.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	logger.Info("Creating task: %s", req.TaskID)

	if s.registry.Exists(req.TaskID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, req.TaskID)
	}

	opts := s.agentOptions(req)

	var sess *session.Session
	if req.Session.ReuseExisting && req.Session.SessionID != "" {
		existing, ok := s.manager.Get(req.Session.SessionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, req.Session.SessionID)
		}
		sess = existing
		logger.Info("Reusing session: %s", sess.ID)
	} else {
		created, err := s.manager.Create(ctx, "session-"+req.TaskID, req.Workspace, opts)
		if err != nil {
			audit.LogFailure(audit.OpSessionCreate, req.TaskID, "session-"+req.TaskID, err)
			return nil, err
		}
		sess = created
		audit.LogSuccess(audit.OpSessionCreate, req.TaskID, sess.ID)
	}

	if err := sess.AddTask(req.TaskID); err != nil {
		return nil, err
	}

	exec := task.NewExecutor(sess)
	s.registry.Register(req.TaskID, sess.ID, exec)

	timeout := time.Duration(req.Options.Timeout) * time.Second
	if req.Options.Timeout <= 0 {
		timeout = s.cfg.Task.DefaultTimeout()
	}

	go func() {
		result, status := exec.Execute(context.Background(), req.TaskID, req.Prompt, timeout)
		s.registry.Finish(req.TaskID, status, result)
		if status == task.StatusCompleted {
			audit.LogSuccess(audit.OpTaskComplete, req.TaskID, sess.ID)
		} else {
			audit.LogFailure(audit.OpTaskComplete, req.TaskID, sess.ID,
				fmt.Errorf("task ended with status %s", status))
		}
	}()

	audit.LogSuccess(audit.OpTaskSubmit, req.TaskID, sess.ID)
	return &SubmitResult{
		TaskID:    req.TaskID,
		SessionID: sess.ID,
		Status:    task.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// agentOptions merges the request options over the configured defaults.
func (s *Service) agentOptions(req *SubmitRequest) *agent.Options {
	opts := &agent.Options{
		AllowedTools:   s.cfg.Claude.DefaultAllowedTools,
		PermissionMode: s.cfg.Claude.DefaultPermissionMode,
		MaxTurns:       s.cfg.Claude.MaxTurns,
		Model:          s.cfg.Claude.DefaultModel,
		Cwd:            req.Workspace,
	}
	if len(req.Options.AllowedTools) > 0 {
		opts.AllowedTools = req.Options.AllowedTools
	}
	if req.Options.PermissionMode != "" {
		opts.PermissionMode = req.Options.PermissionMode
	}
	if req.Options.MaxTurns > 0 {
		opts.MaxTurns = req.Options.MaxTurns
	}
	if req.Options.Model != "" {
		opts.Model = req.Options.Model
	}
	if req.Options.Cwd != "" {
		opts.Cwd = req.Options.Cwd
	}
	return opts
}

// Status returns the current view of a task.
func (s *Service) Status(taskID string) (*TaskStatus, error) {
	entry, ok := s.registry.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	status := &TaskStatus{
		TaskID:    entry.TaskID,
		SessionID: entry.SessionID,
		Status:    entry.Status,
		Result:    entry.Result,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
	if entry.Executor != nil {
		status.Progress = entry.Executor.Progress()
	}
	return status, nil
}

// Interrupt asks the agent to stop the task. The executor keeps running
// until the stream terminates; the status flips to interrupted right away.
func (s *Service) Interrupt(ctx context.Context, taskID string) (time.Time, error) {
	entry, ok := s.registry.Get(taskID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	sess, ok := s.manager.Get(entry.SessionID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: session for task %s", session.ErrNotFound, taskID)
	}

	if entry.Executor != nil {
		entry.Executor.MarkInterrupted()
	}
	if err := sess.Conn.Interrupt(ctx); err != nil {
		audit.LogFailure(audit.OpTaskInterrupt, taskID, sess.ID, err)
		return time.Time{}, fmt.Errorf("failed to interrupt task %s: %w", taskID, err)
	}

	s.registry.SetStatus(taskID, task.StatusInterrupted)
	audit.LogSuccess(audit.OpTaskInterrupt, taskID, sess.ID)
	logger.Info("Interrupted task: %s", taskID)
	return time.Now().UTC(), nil
}

// TaskActive reports whether a task is registered and not terminal.
func (s *Service) TaskActive(taskID string) bool {
	entry, ok := s.registry.Get(taskID)
	return ok && !entry.Status.IsTerminal()
}

// Sessions returns snapshots of all live sessions.
func (s *Service) Sessions() []session.Info {
	return s.manager.List()
}

// DeleteSession tears down a session.
func (s *Service) DeleteSession(sessionID string) error {
	if err := s.manager.Delete(sessionID); err != nil {
		audit.LogFailure(audit.OpSessionDelete, "", sessionID, err)
		return err
	}
	audit.LogSuccess(audit.OpSessionDelete, "", sessionID)
	return nil
}

// Health describes the server's liveness state.
type Health struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	ActiveTasks    int    `json:"active_tasks"`
	UptimeSeconds  int    `json:"uptime_seconds"`
}

// Health returns the current health snapshot.
func (s *Service) Health() Health {
	return Health{
		Status:         "healthy",
		Version:        Version,
		ActiveSessions: s.manager.ActiveCount(),
		ActiveTasks:    s.registry.ActiveCount(),
		UptimeSeconds:  int(time.Since(s.startTime).Seconds()),
	}
}

// Ready reports whether the pool can take another session.
func (s *Service) Ready() bool {
	return s.manager.ActiveCount() < s.manager.MaxConcurrent()
}

// Subscribe claims the task's event queue for a single subscriber.
func (s *Service) Subscribe(taskID string) (*session.Session, error) {
	entry, ok := s.registry.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	sess, ok := s.manager.Get(entry.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session for task %s", session.ErrNotFound, taskID)
	}
	return sess, nil
}
