package agent

import "context"

// Connection is a stateful link to one agent process. A connection serves one
// query at a time: Query sends a prompt, then Messages yields the incremental
// response until a ResultMessage arrives. Stream-level failures surface on
// Errors; the Messages channel closes when the backend goes away.
type Connection interface {
	// Connect establishes the backend process or transport.
	Connect(ctx context.Context) error

	// Query sends a user prompt. Non-blocking with respect to the response.
	Query(ctx context.Context, prompt string) error

	// Messages returns the response stream. Closed on disconnect or backend
	// exit.
	Messages() <-chan Message

	// Errors returns stream-level errors (connection loss, protocol
	// violations).
	Errors() <-chan error

	// Interrupt asks the backend to stop the current operation. Best effort.
	Interrupt(ctx context.Context) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect() error
}

// Runtime opens agent connections. The production runtime spawns the Claude
// Code CLI; tests substitute stubs.
type Runtime interface {
	Open(opts *Options) Connection
}
