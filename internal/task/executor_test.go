package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/session"
)

// stubConn plays back a scripted message stream.
type stubConn struct {
	msgs     chan agent.Message
	errs     chan error
	queryErr error
}

func newStubConn() *stubConn {
	return &stubConn{
		msgs: make(chan agent.Message, 32),
		errs: make(chan error, 1),
	}
}

func (c *stubConn) Connect(ctx context.Context) error { return nil }

func (c *stubConn) Query(ctx context.Context, prompt string) error { return c.queryErr }

func (c *stubConn) Messages() <-chan agent.Message { return c.msgs }
func (c *stubConn) Errors() <-chan error           { return c.errs }

func (c *stubConn) Interrupt(ctx context.Context) error { return nil }
func (c *stubConn) Disconnect() error                   { return nil }

type stubRuntime struct {
	conn *stubConn
}

func (r *stubRuntime) Open(opts *agent.Options) agent.Connection { return r.conn }

// newTestSession builds a session backed by the scripted connection, with the
// task registered and its queue claimed, ready for Execute.
func newTestSession(t *testing.T, conn *stubConn, taskID string) (*session.Session, *event.Queue) {
	t.Helper()

	m := session.NewManager(&stubRuntime{conn: conn}, session.ManagerConfig{
		MaxConcurrent:   1,
		CleanupInterval: time.Hour,
		QueueSize:       64,
	})
	t.Cleanup(m.Shutdown)

	sess, err := m.Create(context.Background(), "session-"+taskID, t.TempDir(), &agent.Options{})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := sess.AddTask(taskID); err != nil {
		t.Fatalf("failed to add task: %v", err)
	}

	q := sess.Subscribe(taskID)
	if err := q.Claim(); err != nil {
		t.Fatalf("failed to claim queue: %v", err)
	}
	return sess, q
}

// collect drains the queue until the terminal event and returns everything.
func collect(t *testing.T, q *event.Queue) <-chan []event.Event {
	t.Helper()
	out := make(chan []event.Event, 1)
	go func() {
		var events []event.Event
		for {
			select {
			case ev := <-q.Events():
				events = append(events, ev)
				if ev.IsTerminal() {
					out <- events
					return
				}
			case <-time.After(5 * time.Second):
				out <- events
				return
			}
		}
	}()
	return out
}

func TestExecuteTextTask(t *testing.T) {
	conn := newStubConn()
	conn.msgs <- agent.AssistantMessage{
		Model:   "claude-sonnet-4-5",
		Content: []agent.ContentBlock{agent.TextBlock{Text: "hi"}},
	}
	conn.msgs <- agent.ResultMessage{
		Usage:        agent.Usage{TotalTokens: 10, InputTokens: 6, OutputTokens: 4},
		NumTurns:     1,
		DurationMs:   5,
		TotalCostUSD: 0.01,
	}

	sess, q := newTestSession(t, conn, "t1")
	done := collect(t, q)

	exec := NewExecutor(sess)
	result, status := exec.Execute(context.Background(), "t1", "say hi", time.Minute)

	if status != StatusCompleted {
		t.Errorf("expected completed status, got %q", status)
	}
	if result.ExitCode != 0 || result.Summary != "Task completed successfully" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.TotalCostUSD != 0.01 {
		t.Errorf("unexpected cost: %v", result.TotalCostUSD)
	}
	if sess.TaskCount() != 0 {
		t.Error("task should be removed from session after execution")
	}

	events := <-done
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != event.TypeMessage {
		t.Errorf("event 0 should be a message, got %s", events[0].Type)
	}
	msg := events[0].Data.(map[string]any)
	if msg["message_type"] != "assistant" || msg["content"] != "hi" {
		t.Errorf("unexpected message payload: %+v", msg)
	}
	if events[1].Type != event.TypeProgress {
		t.Errorf("event 1 should be progress, got %s", events[1].Type)
	}
	if p := events[1].Data.(Progress); p.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", p.Turns)
	}
	if events[2].Type != event.TypeProgress {
		t.Errorf("event 2 should be progress, got %s", events[2].Type)
	}
	if p := events[2].Data.(Progress); p.TokensUsed != 10 || p.TokensInput != 6 || p.TokensOutput != 4 {
		t.Errorf("unexpected final progress: %+v", p)
	}
	if events[3].Type != event.TypeComplete {
		t.Errorf("last event must be complete, got %s", events[3].Type)
	}
}

func TestExecuteToolCycle(t *testing.T) {
	conn := newStubConn()
	conn.msgs <- agent.AssistantMessage{
		Model: "claude-sonnet-4-5",
		Content: []agent.ContentBlock{
			agent.ToolUseBlock{ID: "tu1", Name: "Write", Input: map[string]any{"file_path": "a.txt"}},
			agent.ToolResultBlock{
				ToolUseID: "tu1",
				Content: []any{
					map[string]any{"type": "text", "text": "File written successfully"},
				},
			},
		},
	}
	conn.msgs <- agent.ResultMessage{Usage: agent.Usage{TotalTokens: 20}, NumTurns: 1}

	sess, q := newTestSession(t, conn, "t2")
	done := collect(t, q)

	exec := NewExecutor(sess)
	_, status := exec.Execute(context.Background(), "t2", "write a file", time.Minute)
	if status != StatusCompleted {
		t.Fatalf("expected completed status, got %q", status)
	}

	events := <-done
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != event.TypeToolUse {
		t.Errorf("event 0 should be tool_use, got %s", events[0].Type)
	}
	use := events[0].Data.(map[string]any)
	if use["tool_name"] != "Write" || use["tool_id"] != "tu1" {
		t.Errorf("unexpected tool_use payload: %+v", use)
	}
	if events[1].Type != event.TypeToolResult {
		t.Errorf("event 1 should be tool_result, got %s", events[1].Type)
	}
	if p := events[2].Data.(Progress); p.FilesModified != 1 {
		t.Errorf("expected 1 modified file, got %d", p.FilesModified)
	}
	if events[4].Type != event.TypeComplete {
		t.Errorf("last event must be complete, got %s", events[4].Type)
	}
}

func TestExecuteTimeout(t *testing.T) {
	conn := newStubConn() // never produces a result

	sess, q := newTestSession(t, conn, "t3")
	done := collect(t, q)

	exec := NewExecutor(sess)
	result, status := exec.Execute(context.Background(), "t3", "hang", 50*time.Millisecond)

	if status != StatusFailed {
		t.Errorf("expected failed status, got %q", status)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
	if result.Summary != "Task failed: Timeout" {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "Timeout" {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	events := <-done
	if len(events) != 2 {
		t.Fatalf("expected error + complete, got %d events: %+v", len(events), events)
	}
	if events[0].Type != event.TypeError {
		t.Errorf("event 0 should be error, got %s", events[0].Type)
	}
	errData := events[0].Data.(map[string]any)
	if errData["error"] != "Task execution timed out" {
		t.Errorf("unexpected error payload: %+v", errData)
	}
	if events[1].Type != event.TypeComplete {
		t.Errorf("last event must be complete, got %s", events[1].Type)
	}
}

func TestExecuteErrorResult(t *testing.T) {
	conn := newStubConn()
	conn.msgs <- agent.ResultMessage{IsError: true, Result: "max turns exceeded", NumTurns: 3}

	sess, q := newTestSession(t, conn, "t4")
	done := collect(t, q)

	exec := NewExecutor(sess)
	result, status := exec.Execute(context.Background(), "t4", "doomed", time.Minute)

	if status != StatusFailed {
		t.Errorf("expected failed status, got %q", status)
	}
	if !strings.Contains(result.Summary, "max turns exceeded") {
		t.Errorf("unexpected summary: %q", result.Summary)
	}

	events := <-done
	// progress from the result message, then error, then complete
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[1].Type != event.TypeError || events[2].Type != event.TypeComplete {
		t.Errorf("unexpected event order: %+v", events)
	}
}

func TestExecuteStreamClosed(t *testing.T) {
	conn := newStubConn()
	close(conn.msgs)

	sess, q := newTestSession(t, conn, "t5")
	done := collect(t, q)

	exec := NewExecutor(sess)
	result, status := exec.Execute(context.Background(), "t5", "x", time.Minute)

	if status != StatusFailed {
		t.Errorf("expected failed status, got %q", status)
	}
	if len(result.Errors) != 1 || result.Errors[0] != ErrStreamClosed.Error() {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	<-done
}

func TestExecuteInterrupted(t *testing.T) {
	conn := newStubConn()
	close(conn.msgs) // stream ends without a result, as after an interrupt

	sess, q := newTestSession(t, conn, "t6")
	done := collect(t, q)

	exec := NewExecutor(sess)
	exec.MarkInterrupted()
	result, status := exec.Execute(context.Background(), "t6", "x", time.Minute)

	if status != StatusInterrupted {
		t.Errorf("expected interrupted status, got %q", status)
	}
	if result.Summary != "Task interrupted" {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}

	events := <-done
	if events[len(events)-1].Type != event.TypeComplete {
		t.Error("last event must be complete")
	}
}

func TestExecuteStreamError(t *testing.T) {
	conn := newStubConn()
	conn.errs <- errors.New("process exited unexpectedly")

	sess, q := newTestSession(t, conn, "t7")
	done := collect(t, q)

	exec := NewExecutor(sess)
	result, status := exec.Execute(context.Background(), "t7", "x", time.Minute)

	if status != StatusFailed {
		t.Errorf("expected failed status, got %q", status)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "process exited unexpectedly" {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	<-done
}
