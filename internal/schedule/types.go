// Package schedule runs recurring task submissions on cron expressions,
// persisted in SQLite so they survive restarts.
package schedule

import (
	"time"
)

// Schedule represents a recurring task submission.
type Schedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CronExpr   string     `json:"cron_expr"` // Standard 5-field cron expression
	Prompt     string     `json:"prompt"`
	Workspace  string     `json:"workspace"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastTaskID string     `json:"last_task_id,omitempty"`
}

// Update contains optional fields for updating a schedule.
type Update struct {
	Name      *string `json:"name,omitempty"`
	CronExpr  *string `json:"cron_expr,omitempty"`
	Prompt    *string `json:"prompt,omitempty"`
	Workspace *string `json:"workspace,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// ListFilter contains optional filters for listing schedules.
type ListFilter struct {
	Enabled *bool
}
