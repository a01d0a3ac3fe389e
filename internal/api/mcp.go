package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/reviewiq/internal/pipeline"
	"github.com/kalambet/reviewiq/internal/storage"
)

const recentTasksLimit = 20

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Intake *pipeline.Intake
}

// NewMCPServer creates an MCP server exposing order intake and queue
// inspection to agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"reviewiq",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("reviewiq scrapes restaurant reviews and publishes a report per order. Start an order, then poll its status."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_scrape",
			mcp.WithDescription("Order a review report for a restaurant listing. Returns the order id."),
			mcp.WithString("url", mcp.Description("Absolute URL of the restaurant's review listing"), mcp.Required()),
			mcp.WithString("email", mcp.Description("Address the report link is sent to"), mcp.Required()),
			mcp.WithString("restaurant_name", mcp.Description("Display name; derived from the URL when empty")),
		),
		mcpStartScrape(deps),
	)

	s.AddTool(
		mcp.NewTool("order_status",
			mcp.WithDescription("Look up an order's status and report link."),
			mcp.WithString("order_id", mcp.Description("Order id returned by start_scrape"), mcp.Required()),
		),
		mcpOrderStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List queued and finished tasks, newest first."),
			mcp.WithString("status", mcp.Description("Filter: pending, processing, completed or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default 20)")),
		),
		mcpListTasks(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"queue://recent",
			"Recent Tasks",
			mcp.WithResourceDescription("Last 20 tasks in the queue"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpStartScrape(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}
		order, taskID, err := deps.Intake.EnqueueOrder(ctx, pipeline.OrderRequest{
			Email:          email,
			URL:            url,
			RestaurantName: req.GetString("restaurant_name", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start scrape: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued order %s (task %d)", order.ID, taskID)), nil
	}
}

func mcpOrderStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("order_id")
		if err != nil {
			return mcpError("order_id is required"), nil
		}
		order, err := deps.Store.GetOrder(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("order %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get order: %v", err)), nil
		}
		b, err := json.Marshal(order)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal order: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", recentTasksLimit)
		if limit <= 0 || limit > 500 {
			limit = recentTasksLimit
		}
		tasks, err := deps.Store.ListTasks(storage.TaskStatus(req.GetString("status", "")), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}
		if len(tasks) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(tasks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tasks, err := deps.Store.ListTasks("", recentTasksLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent tasks: %w", err)
		}
		if tasks == nil {
			tasks = []storage.Task{}
		}
		b, err := json.Marshal(tasks)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
