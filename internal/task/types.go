// Package task drives one prompt-to-completion execution over a session and
// tracks every live task in a process-wide registry.
package task

// Status is the lifecycle state of a task. Terminal states are absorbing.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// Progress is a point-in-time snapshot of a task's execution. Turns and
// elapsed time only grow; token counts are overwritten when the authoritative
// totals arrive in the final result message.
type Progress struct {
	Turns         int `json:"turns"`
	TokensUsed    int `json:"tokens_used"`
	TokensInput   int `json:"tokens_input"`
	TokensOutput  int `json:"tokens_output"`
	FilesModified int `json:"files_modified"`
	ElapsedTimeMs int `json:"elapsed_time_ms"`
}

// Result is the terminal outcome of a task.
type Result struct {
	ExitCode     int      `json:"exit_code"`
	Summary      string   `json:"summary,omitempty"`
	Errors       []string `json:"errors"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`
}
