// registry.go - Process-wide task registry
//
// The registry answers status queries. Entries outlive their executor so a
// late status query after completion still sees the terminal result.
package task

import (
	"sync"
	"time"
)

// Entry is the registry's record of one task.
type Entry struct {
	TaskID    string
	SessionID string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Executor  *Executor
	Result    *Result
}

// Registry maps task ids to their live state. The façade writes, everyone
// reads.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Entry)}
}

// Register records a newly submitted task as running.
func (r *Registry) Register(taskID, sessionID string, exec *Executor) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	entry := &Entry{
		TaskID:    taskID,
		SessionID: sessionID,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Executor:  exec,
	}
	r.tasks[taskID] = entry
	return entry
}

// Get returns a copy of the task's entry.
func (r *Registry) Get(taskID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tasks[taskID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Exists reports whether the task id is known.
func (r *Registry) Exists(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[taskID]
	return ok
}

// SetStatus updates a task's status. Terminal statuses set by Finish are not
// overwritten.
func (r *Registry) SetStatus(taskID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tasks[taskID]
	if !ok || entry.Status.IsTerminal() {
		return false
	}
	entry.Status = status
	entry.UpdatedAt = time.Now().UTC()
	return true
}

// Finish records the terminal status and result of a task.
func (r *Registry) Finish(taskID string, status Status, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tasks[taskID]
	if !ok {
		return
	}
	entry.Status = status
	entry.Result = &result
	entry.UpdatedAt = time.Now().UTC()
}

// ActiveCount returns the number of tasks that have not reached a terminal
// status.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.tasks {
		if !entry.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Prune drops terminal entries older than maxAge and returns how many were
// removed.
func (r *Registry) Prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, entry := range r.tasks {
		if entry.Status.IsTerminal() && entry.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
