// Package mcptool exposes the task service to MCP clients, so agent
// frontends can submit and track tasks over the streamable HTTP transport.
package mcptool

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/metrics"
	"github.com/coderelay/coderelay/internal/server"
)

// Server bridges MCP tool calls onto the task service.
type Server struct {
	service   *server.Service
	mcpServer *mcp.Server
}

// NewServer builds the MCP server and registers the tool set.
func NewServer(service *server.Service) *Server {
	s := &Server{service: service}
	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "coderelay",
		Version: server.Version,
	}, nil)
	s.registerTools()
	return s
}

// GinHandler returns the streamable HTTP transport wrapped for gin.
func (s *Server) GinHandler() gin.HandlerFunc {
	handler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{})
	return gin.WrapH(handler)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "task_submit",
		Description: "Submit a coding task for execution. Returns the task and session ids.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id":   map[string]any{"type": "string", "description": "Unique task identifier"},
				"prompt":    map[string]any{"type": "string", "description": "Task prompt for the agent"},
				"workspace": map[string]any{"type": "string", "description": "Absolute workspace directory path"},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Existing session to reuse; omit to create a new one",
				},
				"timeout": map[string]any{"type": "integer", "description": "Task timeout in seconds"},
			},
			"required": []string{"task_id", "prompt", "workspace"},
		},
	}, s.handleTaskSubmit)

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "task_status",
		Description: "Get the status, progress, and result of a task.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string"},
			},
			"required": []string{"task_id"},
		},
	}, s.handleTaskStatus)

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "task_interrupt",
		Description: "Interrupt a running task. The task finishes with a non-success exit.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string"},
			},
			"required": []string{"task_id"},
		},
	}, s.handleTaskInterrupt)

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "session_list",
		Description: "List live agent sessions with their tasks and activity times.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, s.handleSessionList)

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        "session_delete",
		Description: "Disconnect and remove a session.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
			},
			"required": []string{"session_id"},
		},
	}, s.handleSessionDelete)
}

type submitArgs struct {
	TaskID    string `json:"task_id"`
	Prompt    string `json:"prompt"`
	Workspace string `json:"workspace"`
	SessionID string `json:"session_id"`
	Timeout   int    `json:"timeout"`
}

func (s *Server) handleTaskSubmit(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args submitArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("task_submit", err)
	}

	submitReq := &server.SubmitRequest{
		TaskID:    args.TaskID,
		Prompt:    args.Prompt,
		Workspace: args.Workspace,
		Options:   server.TaskOptions{Timeout: args.Timeout},
	}
	if args.SessionID != "" {
		submitReq.Session = server.SessionSelector{ReuseExisting: true, SessionID: args.SessionID}
	}

	result, err := s.service.Submit(ctx, submitReq)
	if err != nil {
		return errorResult("task_submit", err)
	}
	return jsonResult("task_submit", result)
}

type taskArgs struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleTaskStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args taskArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("task_status", err)
	}

	status, err := s.service.Status(args.TaskID)
	if err != nil {
		return errorResult("task_status", err)
	}
	return jsonResult("task_status", status)
}

func (s *Server) handleTaskInterrupt(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args taskArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("task_interrupt", err)
	}

	at, err := s.service.Interrupt(ctx, args.TaskID)
	if err != nil {
		return errorResult("task_interrupt", err)
	}
	return jsonResult("task_interrupt", map[string]any{
		"task_id":        args.TaskID,
		"status":         "interrupted",
		"interrupted_at": at,
	})
}

func (s *Server) handleSessionList(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult("session_list", map[string]any{"sessions": s.service.Sessions()})
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSessionDelete(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("session_delete", err)
	}

	if err := s.service.DeleteSession(args.SessionID); err != nil {
		return errorResult("session_delete", err)
	}
	return jsonResult("session_delete", map[string]any{"message": "Session " + args.SessionID + " deleted"})
}

func unmarshalArgs(req *mcp.CallToolRequest, out any) error {
	if req.Params == nil || req.Params.Arguments == nil {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, out)
}

func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(tool, err)
	}
	metrics.RecordToolCall(tool, "success")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(tool string, err error) (*mcp.CallToolResult, error) {
	logger.Info("MCP tool %s failed: %v", tool, err)
	metrics.RecordToolCall(tool, "error")
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}, nil
}
