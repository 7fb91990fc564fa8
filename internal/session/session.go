// Package session manages live agent connections and their task bookkeeping.
//
// session.go - Session state
//
// A session owns exactly one agent connection, the tasks running over it, and
// one event queue per task. All state changes go through the session mutex;
// the queues themselves are independently safe.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/event"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusIdle       Status = "idle"
	StatusTerminated Status = "terminated"
)

// Session pairs one agent connection with the tasks executing over it.
type Session struct {
	ID        string
	Workspace string
	Options   *agent.Options
	Conn      agent.Connection
	CreatedAt time.Time

	queueSize int

	mu           sync.Mutex
	status       Status
	tasks        []string
	queues       map[string]*event.Queue
	lastActivity time.Time
}

// Info is a read-only snapshot of a session for listings.
type Info struct {
	SessionID    string    `json:"session_id"`
	Tasks        []string  `json:"tasks"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func newSession(id, workspace string, opts *agent.Options, conn agent.Connection, queueSize int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Workspace:    workspace,
		Options:      opts,
		Conn:         conn,
		CreatedAt:    now,
		queueSize:    queueSize,
		status:       StatusActive,
		queues:       make(map[string]*event.Queue),
		lastActivity: now,
	}
}

// AddTask registers a task with the session. A session runs one task at a
// time; a second concurrent task is rejected with ErrSessionBusy.
func (s *Session) AddTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) > 0 {
		return ErrSessionBusy
	}
	s.tasks = append(s.tasks, taskID)
	s.lastActivity = time.Now().UTC()
	return nil
}

// RemoveTask deregisters a task. Removing an unknown task is a no-op; either
// way last activity advances.
func (s *Session) RemoveTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.tasks {
		if id == taskID {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	s.lastActivity = time.Now().UTC()
}

// Subscribe returns the task's event queue, creating it on first call.
// Repeated calls return the same queue; single-subscriber enforcement happens
// via Queue.Claim.
func (s *Session) Subscribe(taskID string) *event.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[taskID]
	if !ok {
		q = event.NewQueue(s.queueSize)
		s.queues[taskID] = q
	}
	s.lastActivity = time.Now().UTC()
	return q
}

// Unsubscribe drops the task's queue and discards undrained events. Further
// publishes for the task id become no-ops.
func (s *Session) Unsubscribe(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[taskID]; ok {
		q.Close()
		delete(s.queues, taskID)
	}
	s.lastActivity = time.Now().UTC()
}

// Publish enqueues an event on the task's queue, blocking while the queue is
// full. Publishing with no queue present drops the event silently; the
// subscriber may have unsubscribed while the executor is still running.
func (s *Session) Publish(ctx context.Context, taskID string, ev event.Event) error {
	s.mu.Lock()
	q, ok := s.queues[taskID]
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := q.Publish(ctx, ev); err != nil {
		// A closed queue means the subscriber already left; not an error.
		if errors.Is(err, event.ErrQueueClosed) {
			return nil
		}
		return err
	}
	return nil
}

// IsIdle reports whether the session has no tasks and has been inactive for
// longer than timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) == 0 && time.Since(s.lastActivity) > timeout
}

// TaskCount returns the number of registered tasks.
func (s *Session) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// LastActivity returns the last activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// GetStatus returns the session status.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]string, len(s.tasks))
	copy(tasks, s.tasks)
	return Info{
		SessionID:    s.ID,
		Tasks:        tasks,
		Status:       s.status,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}

// close tears down the session's queues and agent connection. Disconnect
// errors are returned for logging but the session is unusable afterwards.
func (s *Session) close() error {
	s.mu.Lock()
	for id, q := range s.queues {
		q.Close()
		delete(s.queues, id)
	}
	s.status = StatusTerminated
	conn := s.Conn
	s.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}
