// stream.go - WebSocket stream endpoint
//
// One subscriber drains a task's event queue over a WebSocket. Clients open
// the stream right after (or even just before) submitting, so the handler
// waits a short grace window for the task to appear before giving up.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/metrics"
)

const (
	// graceRetries x graceInterval bounds how long the handler waits for a
	// just-submitted task to land in the registry.
	graceRetries  = 20
	graceInterval = 100 * time.Millisecond

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler serves /ws/tasks/:task_id.
type StreamHandler struct {
	service *Service
}

// NewStreamHandler creates the stream handler.
func NewStreamHandler(service *Service) *StreamHandler {
	return &StreamHandler{service: service}
}

// StreamTask upgrades the connection and forwards the task's events until
// the terminal complete event, the client drops, or the queue closes.
func (h *StreamHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("task_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade stream connection for task %s: %v", taskID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	logger.Info("Stream connected for task: %s", taskID)
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	if !h.waitForTask(taskID) {
		h.sendError(conn, "Task "+taskID+" not found")
		h.closeWith(conn, websocket.ClosePolicyViolation, "task not found")
		return
	}

	sess, err := h.service.Subscribe(taskID)
	if err != nil {
		h.sendError(conn, err.Error())
		h.closeWith(conn, websocket.CloseInternalServerErr, "session not found")
		return
	}

	queue := sess.Subscribe(taskID)
	if err := queue.Claim(); err != nil {
		h.sendError(conn, "Task "+taskID+" already has a subscriber")
		h.closeWith(conn, websocket.ClosePolicyViolation, "already subscribed")
		return
	}
	defer sess.Unsubscribe(taskID)

	// Reader goroutine: we never expect frames from the client, but reading
	// is how gorilla surfaces the disconnect.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-queue.Events():
			if err := h.sendEvent(conn, ev); err != nil {
				logger.Info("Stream write failed for task %s: %v", taskID, err)
				return
			}
			if ev.IsTerminal() {
				h.closeWith(conn, websocket.CloseNormalClosure, "complete")
				return
			}
		case <-queue.Done():
			return
		case <-clientGone:
			logger.Info("Stream disconnected for task: %s", taskID)
			return
		}
	}
}

// waitForTask polls the registry over the grace window.
func (h *StreamHandler) waitForTask(taskID string) bool {
	for i := 0; i < graceRetries; i++ {
		if _, err := h.service.Status(taskID); err == nil {
			return true
		}
		time.Sleep(graceInterval)
	}
	_, err := h.service.Status(taskID)
	return err == nil
}

func (h *StreamHandler) sendEvent(conn *websocket.Conn, ev event.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

func (h *StreamHandler) sendError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(map[string]any{
		"type": "error",
		"data": map[string]any{"error": message},
	})
}

func (h *StreamHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
}
