// Package mcpserver registers MCP tools that expose the sync service's
// status, logs and manual refresh trigger.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/alist-sync/internal/logging"
	"github.com/alexjbarnes/alist-sync/internal/monitor"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Deps are the sources the tools read from.
type Deps struct {
	StatusPath   string
	LogPath      string
	DefaultLines int
	Refresher    monitor.Refresher
}

// RegisterTools adds the sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Current sync status: active task, progress, pending folder count, outstanding remote tasks, error counters and last success time.",
	}, statusHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_logs",
		Description: "Return the last lines of the sync service log, oldest first. At most 1000 lines.",
	}, logsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_refresh",
		Description: "Refresh the source and destination listings and start copying any new folders. Returns immediately if a cycle is already processing.",
	}, refreshHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// LogsInput holds parameters for sync_logs.
type LogsInput struct {
	Lines int `json:"lines,omitempty" jsonschema:"number of lines to return, defaults to the configured tail length"`
}

// RefreshInput has no parameters.
type RefreshInput struct{}

// LogsResult is the output of sync_logs.
type LogsResult struct {
	Lines []string `json:"lines"`
}

// --- Handlers ---

// statusHandler returns the document as text only. Its timestamps do not
// map cleanly onto an inferred output schema.
func statusHandler(d Deps) mcp.ToolHandlerFor[StatusInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
		doc, err := status.Read(d.StatusPath)
		if err != nil {
			return nil, nil, err
		}
		return textResult(doc), nil, nil
	}
}

func logsHandler(d Deps) mcp.ToolHandlerFor[LogsInput, *LogsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input LogsInput) (*mcp.CallToolResult, *LogsResult, error) {
		n := d.DefaultLines
		if input.Lines > 0 {
			n = input.Lines
		}
		n = max(1, min(n, monitor.MaxLogLines))

		lines, err := logging.Tail(d.LogPath, n)
		if err != nil {
			return nil, nil, err
		}

		result := &LogsResult{Lines: lines}
		return textResult(result), result, nil
	}
}

func refreshHandler(d Deps) mcp.ToolHandlerFor[RefreshInput, *monitor.RefreshResponse] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ RefreshInput) (*mcp.CallToolResult, *monitor.RefreshResponse, error) {
		res, err := d.Refresher.Refresh(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("refresh failed: %w", err)
		}

		result := &monitor.RefreshResponse{
			Success:        true,
			Message:        monitor.RefreshMessage(res),
			NewWork:        res.NewWork,
			AlreadyRunning: res.AlreadyRunning,
			CycleID:        res.CycleID,
		}
		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
