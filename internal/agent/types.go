// Package agent wraps the backend coding agent behind a connection interface.
//
// types.go - Message and content block unions
//
// The backend emits a stream of heterogeneous messages (assistant, user,
// system, result), each assistant message carrying polymorphic content blocks.
// Both unions are modeled as sealed interfaces dispatched with type switches;
// the task executor is the only place that consumes them.
package agent

// Message is one item in the agent's response stream. The stream is
// terminated by a ResultMessage.
type Message interface {
	messageKind() string
}

// ContentBlock is one element of an assistant message's content list.
type ContentBlock interface {
	blockKind() string
}

// AssistantMessage carries the model's output for one turn.
type AssistantMessage struct {
	Content []ContentBlock
	Model   string
}

// UserMessage echoes tool results and user input fed back into the
// conversation. Content is either a plain string or structured blocks.
type UserMessage struct {
	Content any
}

// SystemMessage carries backend status notifications.
type SystemMessage struct {
	Subtype string
	Data    map[string]any
}

// Usage holds token accounting from the final result.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResultMessage terminates a response stream with authoritative totals.
type ResultMessage struct {
	Subtype      string
	Usage        Usage
	NumTurns     int
	DurationMs   int
	IsError      bool
	Result       string
	TotalCostUSD float64
}

func (AssistantMessage) messageKind() string { return "assistant" }
func (UserMessage) messageKind() string      { return "user" }
func (SystemMessage) messageKind() string    { return "system" }
func (ResultMessage) messageKind() string    { return "result" }

// TextBlock is plain assistant text.
type TextBlock struct {
	Text string
}

// ThinkingBlock is extended reasoning output.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock is the outcome of a tool invocation. Content is either a
// string or a list of {type, text} maps.
type ToolResultBlock struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextBlock) blockKind() string       { return "text" }
func (ThinkingBlock) blockKind() string   { return "thinking" }
func (ToolUseBlock) blockKind() string    { return "tool_use" }
func (ToolResultBlock) blockKind() string { return "tool_result" }

// Options configures an agent connection.
type Options struct {
	AllowedTools   []string
	PermissionMode string
	MaxTurns       int
	Model          string
	Cwd            string
	Env            map[string]string
}
