// executor.go - Task executor
//
// The executor is the one place that knows the shape of the agent's message
// stream. It consumes the heterogeneous messages, normalises them into typed
// events on the task's queue, and guarantees that its last publish is the
// terminal complete event.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/metrics"
	"github.com/coderelay/coderelay/internal/session"
)

// terminalPublishTimeout bounds how long the executor waits for a stalled
// subscriber when delivering the final events of a task.
const terminalPublishTimeout = 5 * time.Second

// ErrStreamClosed is returned when the agent stream ends without a result.
var ErrStreamClosed = errors.New("agent stream closed before result")

// Executor runs one task over a session's agent connection.
type Executor struct {
	sess   *session.Session
	taskID string

	startTime   time.Time
	interrupted atomic.Bool

	mu       sync.Mutex
	progress Progress
	cost     float64
}

// NewExecutor binds an executor to a session.
func NewExecutor(sess *session.Session) *Executor {
	return &Executor{sess: sess}
}

// Progress returns a snapshot of the current progress.
func (e *Executor) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// MarkInterrupted records that an interrupt was requested. The executor keeps
// running until the agent stream terminates; the flag only shapes the
// terminal event and status.
func (e *Executor) MarkInterrupted() {
	e.interrupted.Store(true)
}

// Execute drives the task to its terminal event. It always publishes exactly
// one complete event, always removes the task from its session before
// returning, and returns the terminal result with its status.
func (e *Executor) Execute(ctx context.Context, taskID, prompt string, timeout time.Duration) (Result, Status) {
	e.taskID = taskID
	e.startTime = time.Now().UTC()

	logger.Info("Starting task execution: %s", taskID)
	metrics.RecordTaskStarted()

	defer e.sess.RemoveTask(taskID)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := e.run(runCtx, prompt)

	var result Result
	var status Status
	switch {
	case err == nil:
		result = e.complete(ctx, true, "")
		status = StatusCompleted
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Task %s timed out after %v", taskID, timeout)
		e.emitError(ctx, "Task execution timed out")
		result = e.complete(ctx, false, "Timeout")
		status = StatusFailed
	default:
		logger.Error("Task %s failed: %v", taskID, err)
		e.emitError(ctx, err.Error())
		result = e.complete(ctx, false, err.Error())
		status = StatusFailed
	}

	if status == StatusFailed && e.interrupted.Load() {
		status = StatusInterrupted
	}

	metrics.RecordTaskFinished(string(status), time.Since(e.startTime).Seconds())
	logger.Info("Task %s %s", taskID, status)
	return result, status
}

// run sends the prompt and consumes the stream until the result message.
func (e *Executor) run(ctx context.Context, prompt string) error {
	conn := e.sess.Conn
	if err := conn.Query(ctx, prompt); err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	logger.Debug("Task %s: prompt sent", e.taskID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-conn.Errors():
			if err != nil {
				return err
			}

		case msg, ok := <-conn.Messages():
			if !ok {
				return ErrStreamClosed
			}
			switch m := msg.(type) {
			case agent.AssistantMessage:
				if err := e.handleAssistant(ctx, m); err != nil {
					return err
				}
			case agent.UserMessage:
				content, isStr := m.Content.(string)
				if !isStr {
					content = fmt.Sprintf("%v", m.Content)
				}
				if err := e.emitMessage(ctx, map[string]any{
					"message_type": "user",
					"content":      content,
				}); err != nil {
					return err
				}
			case agent.SystemMessage:
				if err := e.emitMessage(ctx, map[string]any{
					"message_type": "system",
					"subtype":      m.Subtype,
					"data":         m.Data,
				}); err != nil {
					return err
				}
			case agent.ResultMessage:
				return e.handleResult(ctx, m)
			}
		}
	}
}

// handleAssistant counts the turn, emits one event per content block, then a
// progress snapshot.
func (e *Executor) handleAssistant(ctx context.Context, msg agent.AssistantMessage) error {
	e.mu.Lock()
	e.progress.Turns++
	e.mu.Unlock()

	for _, block := range msg.Content {
		var err error
		switch b := block.(type) {
		case agent.TextBlock:
			err = e.emitMessage(ctx, map[string]any{
				"message_type": "assistant",
				"content":      b.Text,
				"model":        msg.Model,
			})
		case agent.ThinkingBlock:
			err = e.emitMessage(ctx, map[string]any{
				"message_type": "thinking",
				"content":      b.Thinking,
				"signature":    b.Signature,
			})
		case agent.ToolUseBlock:
			err = e.publish(ctx, event.New(event.TypeToolUse, map[string]any{
				"tool_id":    b.ID,
				"tool_name":  b.Name,
				"tool_input": b.Input,
			}))
		case agent.ToolResultBlock:
			err = e.handleToolResult(ctx, b)
		}
		if err != nil {
			return err
		}
	}

	return e.emitProgress(ctx)
}

// handleToolResult emits the event and counts file modifications. The count
// is a substring heuristic on the tool's textual output and is approximate.
func (e *Executor) handleToolResult(ctx context.Context, block agent.ToolResultBlock) error {
	if err := e.publish(ctx, event.New(event.TypeToolResult, map[string]any{
		"tool_use_id": block.ToolUseID,
		"content":     block.Content,
		"is_error":    block.IsError,
	})); err != nil {
		return err
	}

	items, ok := block.Content.([]any)
	if !ok {
		return nil
	}
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok || entry["type"] != "text" {
			continue
		}
		text, _ := entry["text"].(string)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "written successfully") || strings.Contains(lower, "modified") {
			e.mu.Lock()
			e.progress.FilesModified++
			e.mu.Unlock()
		}
	}
	return nil
}

// handleResult overwrites progress with the authoritative totals and emits
// the final progress snapshot.
func (e *Executor) handleResult(ctx context.Context, msg agent.ResultMessage) error {
	e.mu.Lock()
	e.progress.TokensUsed = msg.Usage.TotalTokens
	e.progress.TokensInput = msg.Usage.InputTokens
	e.progress.TokensOutput = msg.Usage.OutputTokens
	e.progress.Turns = msg.NumTurns
	e.progress.ElapsedTimeMs = msg.DurationMs
	e.cost = msg.TotalCostUSD
	e.mu.Unlock()

	if err := e.emitProgress(ctx); err != nil {
		return err
	}

	logger.Info("Task %s result: turns=%d, tokens=%d, duration=%dms, error=%v",
		e.taskID, msg.NumTurns, msg.Usage.TotalTokens, msg.DurationMs, msg.IsError)

	if msg.IsError {
		if msg.Result != "" {
			return errors.New(msg.Result)
		}
		return errors.New("agent reported an error result")
	}
	return nil
}

func (e *Executor) emitMessage(ctx context.Context, data map[string]any) error {
	return e.publish(ctx, event.New(event.TypeMessage, data))
}

func (e *Executor) emitProgress(ctx context.Context) error {
	e.mu.Lock()
	if elapsed := int(time.Since(e.startTime).Milliseconds()); elapsed > e.progress.ElapsedTimeMs {
		e.progress.ElapsedTimeMs = elapsed
	}
	snapshot := e.progress
	e.mu.Unlock()

	return e.publish(ctx, event.New(event.TypeProgress, snapshot))
}

// emitError publishes an error event. Terminal-path publishes get their own
// bounded context so a dead subscriber cannot wedge the executor.
func (e *Executor) emitError(ctx context.Context, message string) {
	pubCtx, cancel := context.WithTimeout(context.Background(), terminalPublishTimeout)
	defer cancel()
	if err := e.publish(pubCtx, event.New(event.TypeError, map[string]any{"error": message})); err != nil {
		logger.Warn("Task %s: failed to publish error event: %v", e.taskID, err)
	}
}

// complete publishes the terminal event and returns the result it carried.
func (e *Executor) complete(ctx context.Context, success bool, errMsg string) Result {
	e.mu.Lock()
	cost := e.cost
	e.mu.Unlock()

	result := Result{
		ExitCode:     0,
		Summary:      "Task completed successfully",
		Errors:       []string{},
		TotalCostUSD: cost,
	}
	if !success {
		result.ExitCode = 1
		result.Summary = "Task failed: " + errMsg
		result.Errors = []string{errMsg}
		if e.interrupted.Load() {
			result.Summary = "Task interrupted"
		}
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), terminalPublishTimeout)
	defer cancel()
	if err := e.publish(pubCtx, event.New(event.TypeComplete, result)); err != nil {
		logger.Warn("Task %s: failed to publish complete event: %v", e.taskID, err)
	}
	return result
}

func (e *Executor) publish(ctx context.Context, ev event.Event) error {
	if err := e.sess.Publish(ctx, e.taskID, ev); err != nil {
		return err
	}
	metrics.RecordEventPublished(string(ev.Type))
	return nil
}
