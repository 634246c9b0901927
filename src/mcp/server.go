package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"build-bridge/src/store"
)

// DefaultRunLimit bounds list_runs when no limit is given.
const DefaultRunLimit = 20

// Server is the MCP server for the run ledger.
type Server struct {
	mcpServer *server.MCPServer
	store     store.Store
}

// NewServer creates a new MCP server reading from st.
func NewServer(st store.Store, version string) *Server {
	s := server.NewMCPServer(
		"bldbridge",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		store:     st,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	listTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List recent reconciliation runs, newest first, with how many CI builds each one posted to AgileCentral."),
		mcp.WithString("config",
			mcp.Description("Only runs of this connector configuration, e.g. jenkins"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max runs to return (default: 20)"),
		),
	)

	getTool := mcp.NewTool("get_run",
		mcp.WithDescription("Get one reconciliation run with every build it posted. Use a run ID from list_runs."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID from list_runs"),
		),
	)

	s.mcpServer.AddTool(listTool, s.handleListRuns)
	s.mcpServer.AddTool(getTool, s.handleGetRun)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	config := request.GetString("config", "")
	limit := request.GetInt("limit", DefaultRunLimit)
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	runs, err := s.store.ListRuns(ctx, config, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	resp := RunsResponse{Count: len(runs), Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, summarize(r))
	}
	return jsonResult(resp)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	var notFound store.ErrNotFound
	if errors.As(err, &notFound) {
		return mcp.NewToolResultError(notFound.Error()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get run: %v", err)), nil
	}

	builds, err := s.store.GetPostedBuilds(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get posted builds: %v", err)), nil
	}
	return jsonResult(RunDetail{Run: *run, Builds: builds})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
