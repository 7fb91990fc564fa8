// manager.go - Session pool
//
// The manager owns the session table. Creation, deletion, and reaping are all
// serialised under the manager mutex, which is what makes the capacity cap
// and the idle check race-free.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coderelay/coderelay/internal/agent"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/metrics"
)

// ManagerConfig carries the pool limits.
type ManagerConfig struct {
	MaxConcurrent   int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	QueueSize       int
}

// Manager is the bounded pool of live sessions plus the idle reaper.
type Manager struct {
	runtime agent.Runtime
	cfg     ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager and starts its reaper.
func NewManager(runtime agent.Runtime, cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runtime:  runtime,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// Create opens an agent connection and registers a new session. The connect
// happens before the table insert, so a failed connect leaves no trace. The
// whole operation holds the manager mutex: simultaneous creates of the same
// id are serialised and the loser gets ErrAlreadyExists.
func (m *Manager) Create(ctx context.Context, sessionID, workspace string, opts *agent.Options) (*Session, error) {
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWorkspace, workspace)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, sessionID)
	}
	if len(m.sessions) >= m.cfg.MaxConcurrent {
		return nil, fmt.Errorf("%w: %d sessions", ErrAtCapacity, len(m.sessions))
	}

	conn := m.runtime.Open(opts)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w for session %s: %v", ErrConnectFailed, sessionID, err)
	}

	sess := newSession(sessionID, workspace, opts, conn, m.cfg.QueueSize)
	m.sessions[sessionID] = sess

	metrics.RecordSessionCreated()
	metrics.SetActiveSessions(len(m.sessions))
	logger.Info("Session created: %s (workspace: %s, pool: %d/%d)",
		sessionID, workspace, len(m.sessions), m.cfg.MaxConcurrent)
	return sess, nil
}

// Get returns the session for the given id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// List returns snapshots of all live sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Snapshot())
	}
	return infos
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MaxConcurrent returns the pool capacity.
func (m *Manager) MaxConcurrent() int {
	return m.cfg.MaxConcurrent
}

// Delete disconnects and removes a session. Disconnect failures are logged
// and the session is removed regardless.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if err := sess.close(); err != nil {
		logger.Warn("Failed to disconnect session %s: %v", sessionID, err)
	}
	metrics.RecordSessionClosed("deleted")
	logger.Info("Session deleted: %s", sessionID)
	return nil
}

// reapLoop wakes every cleanup interval and removes idle sessions.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle removes every idle session. The idle check and the removal happen
// under the same manager mutex hold, so a session that picks up a task in
// between cannot be reaped.
func (m *Manager) reapIdle() {
	m.mu.Lock()
	var reaped []*Session
	for id, sess := range m.sessions {
		if sess.IsIdle(m.cfg.IdleTimeout) {
			delete(m.sessions, id)
			reaped = append(reaped, sess)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	for _, sess := range reaped {
		if err := sess.close(); err != nil {
			logger.Warn("Failed to disconnect idle session %s: %v", sess.ID, err)
		}
		metrics.RecordSessionClosed("reaped")
		logger.Info("Reaped idle session: %s (idle > %v)", sess.ID, m.cfg.IdleTimeout)
	}
	if len(reaped) > 0 {
		metrics.SetActiveSessions(remaining)
	}
}

// Shutdown stops the reaper and disconnects every session.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(); err != nil {
			logger.Warn("Failed to disconnect session %s during shutdown: %v", sess.ID, err)
		}
		metrics.RecordSessionClosed("shutdown")
	}
	metrics.SetActiveSessions(0)
	logger.Info("Session manager shut down (%d sessions closed)", len(sessions))
}
