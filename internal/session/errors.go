package session

import "errors"

var (
	// ErrAlreadyExists is returned when creating a session whose id is live.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrAtCapacity is returned when the session pool is full.
	ErrAtCapacity = errors.New("session pool at capacity")
	// ErrInvalidWorkspace is returned when the workspace path does not exist.
	ErrInvalidWorkspace = errors.New("workspace path does not exist")
	// ErrNotFound is returned when looking up an unknown session.
	ErrNotFound = errors.New("session not found")
	// ErrSessionBusy is returned when adding a task to a session that is
	// already running one.
	ErrSessionBusy = errors.New("session already has a running task")
	// ErrConnectFailed is returned when the agent connection could not be
	// established at session creation.
	ErrConnectFailed = errors.New("failed to connect agent")
)
