package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *stubRuntime) {
	t.Helper()
	rt := newStubRuntime()
	m := NewManager(rt, cfg)
	t.Cleanup(m.Shutdown)
	return m, rt
}

func TestManagerCreate(t *testing.T) {
	m, rt := newTestManager(t, ManagerConfig{MaxConcurrent: 2})
	ctx := context.Background()

	sess, err := m.Create(ctx, "s1", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("unexpected session id: %q", sess.ID)
	}
	if len(rt.conns) != 1 || !rt.conns[0].connected {
		t.Error("runtime connection was not opened")
	}
	if got, ok := m.Get("s1"); !ok || got != sess {
		t.Error("Get did not return the created session")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("expected 1 active session, got %d", m.ActiveCount())
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxConcurrent: 2})
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := m.Create(ctx, "s1", dir, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create(ctx, "s1", dir, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestManagerCreateAtCapacity(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxConcurrent: 1})
	ctx := context.Background()

	if _, err := m.Create(ctx, "s1", t.TempDir(), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create(ctx, "s2", t.TempDir(), nil); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("expected ErrAtCapacity, got %v", err)
	}

	// Deleting frees a slot.
	if err := m.Delete("s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Create(ctx, "s2", t.TempDir(), nil); err != nil {
		t.Errorf("Create after delete failed: %v", err)
	}
}

func TestManagerCreateInvalidWorkspace(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxConcurrent: 2})

	if _, err := m.Create(context.Background(), "s1", "/no/such/dir", nil); !errors.Is(err, ErrInvalidWorkspace) {
		t.Errorf("expected ErrInvalidWorkspace, got %v", err)
	}
}

func TestManagerCreateConnectFailure(t *testing.T) {
	m, rt := newTestManager(t, ManagerConfig{MaxConcurrent: 2})
	rt.next = func() *stubConn {
		conn := newStubConn()
		conn.connectErr = errors.New("agent unavailable")
		return conn
	}

	if _, err := m.Create(context.Background(), "s1", t.TempDir(), nil); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("expected ErrConnectFailed, got %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Error("failed create must not leave a session behind")
	}
}

func TestManagerDelete(t *testing.T) {
	m, rt := newTestManager(t, ManagerConfig{MaxConcurrent: 2})

	if _, err := m.Create(context.Background(), "s1", t.TempDir(), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Delete("s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if rt.conns[0].disconnectCount() != 1 {
		t.Error("Delete should disconnect the agent connection")
	}
	if err := m.Delete("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for repeated delete, got %v", err)
	}
}

func TestManagerReapIdle(t *testing.T) {
	m, rt := newTestManager(t, ManagerConfig{
		MaxConcurrent:   5,
		IdleTimeout:     10 * time.Millisecond,
		CleanupInterval: time.Hour, // reap manually
	})
	ctx := context.Background()

	idle, err := m.Create(ctx, "idle", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	busy, err := m.Create(ctx, "busy", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := busy.AddTask("t1"); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	m.reapIdle()

	if _, ok := m.Get("idle"); ok {
		t.Error("idle session should have been reaped")
	}
	if _, ok := m.Get("busy"); !ok {
		t.Error("session with a running task must not be reaped")
	}
	if rt.conns[0].disconnectCount() != 1 {
		t.Error("reaped session should be disconnected")
	}
	if idle.GetStatus() != StatusTerminated {
		t.Errorf("reaped session status should be terminated, got %q", idle.GetStatus())
	}
}

func TestManagerList(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxConcurrent: 5})
	ctx := context.Background()

	if _, err := m.Create(ctx, "s1", t.TempDir(), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create(ctx, "s2", t.TempDir(), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.SessionID] = true
	}
	if !seen["s1"] || !seen["s2"] {
		t.Errorf("unexpected session listing: %+v", infos)
	}
}

func TestManagerShutdown(t *testing.T) {
	rt := newStubRuntime()
	m := NewManager(rt, ManagerConfig{MaxConcurrent: 5})

	if _, err := m.Create(context.Background(), "s1", t.TempDir(), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m.Shutdown()

	if m.ActiveCount() != 0 {
		t.Error("Shutdown should remove all sessions")
	}
	if rt.conns[0].disconnectCount() != 1 {
		t.Error("Shutdown should disconnect every session")
	}
}
