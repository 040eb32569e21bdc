package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/jobs"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat ChatService
	// Wait is how long plan_trip and provide_customer_info block for the
	// reply before handing back the task id. Zero returns at once.
	Wait time.Duration
	// PollInterval defaults to 250ms.
	PollInterval time.Duration
}

// NewMCPServer creates an MCP server with the trip planning tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tripd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("tripd plans trips: flights, hotels and activities, with packages fitted to a budget."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("plan_trip",
			mcp.WithDescription("Send a traveller message to a trip planning conversation."),
			mcp.WithString("thread_id", mcp.Description("Conversation id, at least 5 characters"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The traveller's message"), mcp.Required()),
			mcp.WithBoolean("is_continuation", mcp.Description("Refine the current trip instead of starting a new one")),
		),
		mcpPlanTrip(deps),
	)

	s.AddTool(
		mcp.NewTool("trip_status",
			mcp.WithDescription("Get the status and reply of a queued planning task."),
			mcp.WithString("task_id", mcp.Description("Task id returned by plan_trip"), mcp.Required()),
		),
		mcpTripStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("provide_customer_info",
			mcp.WithDescription("Submit the traveller's contact details and budget to a conversation waiting for them."),
			mcp.WithString("thread_id", mcp.Description("Conversation id"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Traveller name")),
			mcp.WithString("email", mcp.Description("Email address")),
			mcp.WithString("phone", mcp.Description("Phone number")),
			mcp.WithString("budget", mcp.Description("Budget, e.g. \"$3,000\" or \"CNY 20000\"")),
		),
		mcpProvideCustomerInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_trip",
			mcp.WithDescription("Forget everything stored for a conversation."),
			mcp.WithString("thread_id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpResetTrip(deps),
	)

	return s
}

func mcpPlanTrip(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}
		if err := validateThreadID(threadID); err != nil {
			return mcpError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		id, err := deps.Chat.Submit(ctx, threadID, message, req.GetBool("is_continuation", false))
		if err != nil {
			return mcpServiceError(err), nil
		}
		return awaitTask(ctx, deps, id)
	}
}

func mcpTripStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		st, err := deps.Chat.Poll(ctx, taskID)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(statusResponse(st))
	}
}

func mcpProvideCustomerInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}
		if err := validateThreadID(threadID); err != nil {
			return mcpError(err.Error()), nil
		}
		input := conversation.HumanInput{
			Name:   req.GetString("name", ""),
			Email:  req.GetString("email", ""),
			Phone:  req.GetString("phone", ""),
			Budget: req.GetString("budget", ""),
		}

		id, err := deps.Chat.Resume(ctx, threadID, input)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return awaitTask(ctx, deps, id)
	}
}

func mcpResetTrip(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}
		if err := deps.Chat.Reset(ctx, threadID); err != nil {
			return mcpServiceError(err), nil
		}
		return mcpText(fmt.Sprintf("Conversation %s reset", threadID)), nil
	}
}

// awaitTask polls the task until it finishes or deps.Wait runs out, then
// reports whatever state it reached.
func awaitTask(ctx context.Context, deps MCPDeps, taskID string) (*mcp.CallToolResult, error) {
	interval := deps.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(deps.Wait)

	for {
		st, err := deps.Chat.Poll(ctx, taskID)
		if err != nil {
			return mcpServiceError(err), nil
		}
		if st.State != jobs.StateRunning || !time.Now().Before(deadline) {
			return mcpJSON(statusResponse(st))
		}
		select {
		case <-ctx.Done():
			return mcpJSON(statusResponse(st))
		case <-time.After(interval):
		}
	}
}

func mcpServiceError(err error) *mcp.CallToolResult {
	_, errType := serviceError(err)
	if errors.Is(err, conversation.ErrAwaitingResume) {
		return mcpError("conversation is waiting for customer info; call provide_customer_info first")
	}
	return mcpError(fmt.Sprintf("%s: %v", errType, err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
