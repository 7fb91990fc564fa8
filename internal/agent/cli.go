// cli.go - Claude Code CLI connection
//
// The production runtime drives the `claude` CLI as a long-lived subprocess
// speaking the stream-json protocol: user messages are written as JSON lines
// to stdin, incremental responses are read as JSON lines from stdout.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderelay/coderelay/internal/logger"
)

// DefaultCLICommand is the agent binary resolved from PATH.
const DefaultCLICommand = "claude"

// CLIRuntime opens connections backed by the Claude Code CLI.
type CLIRuntime struct {
	Command string
	APIKey  string
	BaseURL string
}

// NewCLIRuntime creates a runtime for the given credentials.
func NewCLIRuntime(apiKey, baseURL string) *CLIRuntime {
	return &CLIRuntime{
		Command: DefaultCLICommand,
		APIKey:  apiKey,
		BaseURL: baseURL,
	}
}

// Open creates an unconnected CLI connection.
func (r *CLIRuntime) Open(opts *Options) Connection {
	return &cliConnection{
		runtime: r,
		opts:    opts,
		msgCh:   make(chan Message, 100),
		errCh:   make(chan error, 1),
	}
}

// cliConnection is a single CLI subprocess with its message pump.
type cliConnection struct {
	runtime *CLIRuntime
	opts    *Options

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	msgCh     chan Message
	errCh     chan error
	requestID atomic.Int64

	mu        sync.Mutex
	connected bool
	closed    bool
}

var _ Connection = (*cliConnection)(nil)

// Connect starts the CLI process and the stdout reader.
func (c *cliConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("connection already established")
	}
	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, c.command(), c.args()...)
	cmd.Dir = c.opts.Cwd
	cmd.Env = c.env()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.cancel = cancel
	c.connected = true

	go c.readMessages(stdout)
	go c.drainStderr(stderr)

	logger.Info("Agent process started (pid %d, cwd %s)", cmd.Process.Pid, c.opts.Cwd)
	return nil
}

func (c *cliConnection) command() string {
	if c.runtime.Command != "" {
		return c.runtime.Command
	}
	return DefaultCLICommand
}

func (c *cliConnection) args() []string {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if c.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", c.opts.PermissionMode)
	}
	if len(c.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.opts.AllowedTools, ","))
	}
	if c.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.opts.MaxTurns))
	}
	return args
}

func (c *cliConnection) env() []string {
	env := os.Environ()
	if c.runtime.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+c.runtime.APIKey)
	}
	if c.runtime.BaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+c.runtime.BaseURL)
	}
	for k, v := range c.opts.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Query writes a user message line to the CLI stdin.
func (c *cliConnection) Query(ctx context.Context, prompt string) error {
	line := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
	}
	return c.writeLine(line)
}

// Interrupt sends a control request asking the CLI to stop the current turn.
func (c *cliConnection) Interrupt(ctx context.Context) error {
	id := c.requestID.Add(1)
	line := map[string]any{
		"type":       "control_request",
		"request_id": fmt.Sprintf("req_%d", id),
		"request":    map[string]any{"subtype": "interrupt"},
	}
	return c.writeLine(line)
}

func (c *cliConnection) writeLine(line map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.closed {
		return fmt.Errorf("connection not established")
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to agent stdin: %w", err)
	}
	return nil
}

// Messages returns the response stream. Closed when the process exits.
func (c *cliConnection) Messages() <-chan Message {
	return c.msgCh
}

// Errors returns stream-level errors.
func (c *cliConnection) Errors() <-chan error {
	return c.errCh
}

// Disconnect closes stdin and stops the process. Idempotent.
func (c *cliConnection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}

	// Closing stdin lets the CLI exit on its own; the context cancel kills
	// it if it lingers.
	_ = c.stdin.Close()
	time.Sleep(100 * time.Millisecond)
	c.cancel()
	_ = c.cmd.Wait()

	logger.Info("Agent process stopped")
	return nil
}

// readMessages pumps stdout JSON lines into the message channel.
func (c *cliConnection) readMessages(stdout io.Reader) {
	defer close(c.msgCh)

	scanner := bufio.NewScanner(stdout)
	const maxScanTokenSize = 1024 * 1024
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Control traffic is protocol plumbing, not conversation.
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			select {
			case c.errCh <- fmt.Errorf("malformed agent output: %w", err):
			default:
			}
			continue
		}
		if strings.HasPrefix(probe.Type, "control_") {
			continue
		}

		msg, err := ParseMessage(line)
		if err != nil {
			logger.Debug("Skipping unparseable agent message: %v", err)
			continue
		}

		c.msgCh <- msg
	}

	if err := scanner.Err(); err != nil {
		select {
		case c.errCh <- fmt.Errorf("agent stream error: %w", err):
		default:
		}
	}
}

// drainStderr forwards agent diagnostics to the debug log.
func (c *cliConnection) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("agent stderr: %s", scanner.Text())
	}
}
