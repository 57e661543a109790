package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const mcpToolName = "orchestrate"

// NewMCPServer exposes the workflow as a single MCP tool.
func NewMCPServer(wf Invoker, version string, logger *slog.Logger) *mcp.Server {
	if version == "" {
		version = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "tutorflow", Version: version}, &mcp.ServerOptions{Logger: logger})
	mcp.AddTool(srv, &mcp.Tool{
		Name:        mcpToolName,
		Description: "Route a learner's request to the educational tools that should handle it and return one parameter payload per selected tool.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in InvokeRequest) (*mcp.CallToolResult, InvokeResponse, error) {
		if strings.TrimSpace(in.UserMessage) == "" {
			return nil, InvokeResponse{}, ErrEmptyMessage
		}
		res, err := wf.RunWith(ctx, in.UserMessage)
		if err != nil {
			return nil, InvokeResponse{}, err
		}
		return nil, NewInvokeResponse(res), nil
	})
	return srv
}

// NewMCPHandler serves NewMCPServer over streamable HTTP.
func NewMCPHandler(wf Invoker, version string, logger *slog.Logger) http.Handler {
	srv := NewMCPServer(wf, version, logger)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, &mcp.StreamableHTTPOptions{
		Logger: logger,
	})
}
