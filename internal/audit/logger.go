// Package audit emits structured records of state-changing operations.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpTaskSubmit      Operation = "task.submit"
	OpTaskComplete    Operation = "task.complete"
	OpTaskInterrupt   Operation = "task.interrupt"
	OpSessionCreate   Operation = "session.create"
	OpSessionDelete   Operation = "session.delete"
	OpScheduleCreate  Operation = "schedule.create"
	OpScheduleDelete  Operation = "schedule.delete"
	OpScheduleTrigger Operation = "schedule.trigger"
)

// Event represents an audit log entry
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation Operation      `json:"operation"`
	TaskID    string         `json:"task_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default audit logger
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates a new audit logger
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.TaskID != "" {
		attrs = append(attrs, slog.String("task_id", event.TaskID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogSuccess records a successful operation
func (l *Logger) LogSuccess(op Operation, taskID, sessionID string) {
	l.Log(&Event{
		Operation: op,
		TaskID:    taskID,
		SessionID: sessionID,
		Success:   true,
	})
}

// LogFailure records a failed operation
func (l *Logger) LogFailure(op Operation, taskID, sessionID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: op,
		TaskID:    taskID,
		SessionID: sessionID,
		Success:   false,
		Error:     errMsg,
	})
}

// Convenience functions using default logger

func Log(event *Event) {
	Default().Log(event)
}

func LogSuccess(op Operation, taskID, sessionID string) {
	Default().LogSuccess(op, taskID, sessionID)
}

func LogFailure(op Operation, taskID, sessionID string, err error) {
	Default().LogFailure(op, taskID, sessionID, err)
}
