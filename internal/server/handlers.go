// handlers.go - REST handlers
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/session"
	"github.com/coderelay/coderelay/internal/task"
)

// Handlers holds the REST handlers over the task service.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health())
}

// Ready handles GET /ready.
func (h *Handlers) Ready(c *gin.Context) {
	if !h.service.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Server at capacity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// submitResponse is the body returned for an accepted task.
type submitResponse struct {
	TaskID    string      `json:"task_id"`
	SessionID string      `json:"session_id"`
	Status    task.Status `json:"status"`
	StreamURL string      `json:"stream_url"`
	CreatedAt time.Time   `json:"created_at"`
}

// SubmitTask handles POST /api/v1/tasks.
func (h *Handlers) SubmitTask(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitResponse{
		TaskID:    result.TaskID,
		SessionID: result.SessionID,
		Status:    result.Status,
		StreamURL: "/ws/tasks/" + result.TaskID,
		CreatedAt: result.CreatedAt,
	})
}

// GetTask handles GET /api/v1/tasks/:task_id.
func (h *Handlers) GetTask(c *gin.Context) {
	status, err := h.service.Status(c.Param("task_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// InterruptTask handles POST /api/v1/tasks/:task_id/interrupt.
func (h *Handlers) InterruptTask(c *gin.Context) {
	taskID := c.Param("task_id")
	at, err := h.service.Interrupt(c.Request.Context(), taskID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":        taskID,
		"status":         task.StatusInterrupted,
		"interrupted_at": at,
	})
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	infos := h.service.Sessions()
	if infos == nil {
		infos = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// DeleteSession handles DELETE /api/v1/sessions/:session_id.
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.service.DeleteSession(sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session " + sessionID + " deleted"})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, ErrDuplicateTask),
		errors.Is(err, session.ErrAlreadyExists),
		errors.Is(err, session.ErrInvalidWorkspace):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, session.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	case errors.Is(err, session.ErrAtCapacity), errors.Is(err, session.ErrConnectFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
	default:
		logger.Error("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}
