// schedules.go - Schedule REST handlers
package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/coderelay/coderelay/internal/audit"
	"github.com/coderelay/coderelay/internal/schedule"
)

// ScheduleHandlers exposes CRUD and manual triggering for schedules.
type ScheduleHandlers struct {
	store  *schedule.Store
	runner *schedule.Runner
}

// NewScheduleHandlers creates the schedule handler set.
func NewScheduleHandlers(store *schedule.Store, runner *schedule.Runner) *ScheduleHandlers {
	return &ScheduleHandlers{store: store, runner: runner}
}

type createScheduleRequest struct {
	Name      string `json:"name" binding:"required"`
	CronExpr  string `json:"cron_expr" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
	Workspace string `json:"workspace" binding:"required"`
	Enabled   *bool  `json:"enabled"`
}

// Create handles POST /api/v1/schedules.
func (h *ScheduleHandlers) Create(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if info, err := os.Stat(req.Workspace); err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "workspace path does not exist: " + req.Workspace})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := &schedule.Schedule{
		Name:      req.Name,
		CronExpr:  req.CronExpr,
		Prompt:    req.Prompt,
		Workspace: req.Workspace,
		Enabled:   enabled,
	}

	if err := h.store.Create(sched); err != nil {
		audit.LogFailure(audit.OpScheduleCreate, "", "", err)
		h.writeError(c, err)
		return
	}

	audit.LogSuccess(audit.OpScheduleCreate, "", "")
	c.JSON(http.StatusOK, sched)
}

// List handles GET /api/v1/schedules.
func (h *ScheduleHandlers) List(c *gin.Context) {
	var filter schedule.ListFilter
	switch c.Query("enabled") {
	case "true":
		t := true
		filter.Enabled = &t
	case "false":
		f := false
		filter.Enabled = &f
	}

	schedules, err := h.store.List(&filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

// Get handles GET /api/v1/schedules/:schedule_id.
func (h *ScheduleHandlers) Get(c *gin.Context) {
	sched, err := h.store.Get(c.Param("schedule_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// Update handles PATCH /api/v1/schedules/:schedule_id.
func (h *ScheduleHandlers) Update(c *gin.Context) {
	var update schedule.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	id := c.Param("schedule_id")
	if err := h.store.Update(id, &update); err != nil {
		h.writeError(c, err)
		return
	}

	sched, err := h.store.Get(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// Delete handles DELETE /api/v1/schedules/:schedule_id.
func (h *ScheduleHandlers) Delete(c *gin.Context) {
	id := c.Param("schedule_id")
	if err := h.store.Delete(id); err != nil {
		audit.LogFailure(audit.OpScheduleDelete, "", "", err)
		h.writeError(c, err)
		return
	}
	audit.LogSuccess(audit.OpScheduleDelete, "", "")
	c.JSON(http.StatusOK, gin.H{"message": "Schedule " + id + " deleted"})
}

// Trigger handles POST /api/v1/schedules/:schedule_id/trigger.
func (h *ScheduleHandlers) Trigger(c *gin.Context) {
	sched, err := h.store.Get(c.Param("schedule_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	taskID, err := h.runner.TriggerNow(sched)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedule_id": sched.ID,
		"task_id":     taskID,
		"stream_url":  "/ws/tasks/" + taskID,
	})
}

func (h *ScheduleHandlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, schedule.ErrInvalidCron):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}
