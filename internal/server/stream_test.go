package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/task"
)

// dialStream rewrites the base URL to the ws scheme and dials the task stream.
func dialStream(t *testing.T, baseURL, taskID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/tasks/" + taskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func postTask(t *testing.T, baseURL string, body map[string]any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	resp, err := http.Post(baseURL+"/api/v1/tasks", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to post task: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type wireEvent struct {
	Type      event.Type      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the server to close the stream")
	}
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("expected close code %d, got %v", code, err)
	}
}

func TestStreamSubscribeBeforeSubmit(t *testing.T) {
	router, runtime := newTestServer(t, testConfig(), true)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	// Open the stream first; the handler waits for the task to appear.
	conn := dialStream(t, srv.URL, "task-race")

	resp := postTask(t, srv.URL, map[string]any{
		"task_id":   "task-race",
		"prompt":    "go",
		"workspace": t.TempDir(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit failed: %d", resp.StatusCode)
	}

	// Let the handler attach to the queue before the agent produces output,
	// then play the scripted stream.
	time.Sleep(300 * time.Millisecond)
	agentConn := runtime.last()
	if agentConn == nil {
		t.Fatal("no agent connection was opened")
	}
	agentConn.msgs <- agent.AssistantMessage{
		Model:   "claude-sonnet-4-5",
		Content: []agent.ContentBlock{agent.TextBlock{Text: "working on it"}},
	}
	agentConn.msgs <- agent.ResultMessage{
		Usage:    agent.Usage{TotalTokens: 5},
		NumTurns: 1,
	}

	ev := readEvent(t, conn)
	if ev.Type != event.TypeMessage {
		t.Fatalf("expected message event, got %s", ev.Type)
	}
	var msg map[string]any
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg["message_type"] != "assistant" || msg["content"] != "working on it" {
		t.Errorf("unexpected message payload: %+v", msg)
	}

	ev = readEvent(t, conn)
	if ev.Type != event.TypeProgress {
		t.Fatalf("expected progress event, got %s", ev.Type)
	}

	ev = readEvent(t, conn)
	if ev.Type != event.TypeProgress {
		t.Fatalf("expected final progress event, got %s", ev.Type)
	}
	var progress task.Progress
	if err := json.Unmarshal(ev.Data, &progress); err != nil {
		t.Fatalf("failed to decode progress: %v", err)
	}
	if progress.TokensUsed != 5 {
		t.Errorf("unexpected token count: %d", progress.TokensUsed)
	}

	ev = readEvent(t, conn)
	if ev.Type != event.TypeComplete {
		t.Fatalf("expected complete event, got %s", ev.Type)
	}
	var result task.Result
	if err := json.Unmarshal(ev.Data, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.ExitCode != 0 || result.Summary != "Task completed successfully" {
		t.Errorf("unexpected result: %+v", result)
	}

	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestStreamUnknownTask(t *testing.T) {
	router, _ := newTestServer(t, testConfig(), false)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv.URL, "never-submitted")

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("expected an error frame before close, got %v", err)
	}
	if ev.Type != event.TypeError {
		t.Errorf("expected error event, got %s", ev.Type)
	}

	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestStreamDuplicateSubscriber(t *testing.T) {
	router, _ := newTestServer(t, testConfig(), true)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp := postTask(t, srv.URL, map[string]any{
		"task_id":   "task-dup-sub",
		"prompt":    "hang",
		"workspace": t.TempDir(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit failed: %d", resp.StatusCode)
	}

	first := dialStream(t, srv.URL, "task-dup-sub")
	defer func() { _ = first.Close() }()

	// Give the first subscriber time to claim the queue.
	time.Sleep(100 * time.Millisecond)

	second := dialStream(t, srv.URL, "task-dup-sub")
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wireEvent
	if err := second.ReadJSON(&ev); err != nil {
		t.Fatalf("expected an error frame on the second stream, got %v", err)
	}
	if ev.Type != event.TypeError {
		t.Errorf("expected error event, got %s", ev.Type)
	}
	expectClose(t, second, websocket.ClosePolicyViolation)
}
