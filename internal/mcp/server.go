package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/radutopala/simsearch/internal/lifecycle"
	"github.com/radutopala/simsearch/internal/search"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed by SearchServer
const (
	ToolSearchProjects = "search_projects"
	ToolIndexHealth    = "index_health"
	ToolRebuildIndex   = "rebuild_index"
)

// Backend is the search service as seen by the MCP tools
type Backend interface {
	Search(ctx context.Context, query string, limit int, subset []string) ([]string, error)
	Health() lifecycle.Health
	TriggerRebuild() bool
}

// SearchServer exposes similarity search as MCP tools
type SearchServer struct {
	server  *mcp.Server
	backend Backend
	logger  *slog.Logger
}

// NewSearchServer creates the MCP server and registers its tools
func NewSearchServer(name, version string, backend Backend, logger *slog.Logger) *SearchServer {
	s := &SearchServer{
		backend: backend,
		logger:  logger,
	}

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    name,
			Version: version,
		},
		&mcp.ServerOptions{
			Logger: logger,
		},
	)

	s.registerTools(server)
	s.server = server

	return s
}

// Server returns the underlying MCP server
func (s *SearchServer) Server() *mcp.Server {
	return s.server
}

// Run serves a single session over the given transport until it ends
func (s *SearchServer) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// HTTPHandler serves the Streamable HTTP transport
func (s *SearchServer) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// === TOOLS REGISTRATION ===

func (s *SearchServer) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSearchProjects,
		Description: "Find catalog records semantically similar to a free-text query (e.g., 'pool and gym', 'playground for kids'). Returns record ids ranked by similarity. Optionally restrict results to a subset of ids produced by an earlier structured filter.",
	}, s.handleSearchProjects)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolIndexHealth,
		Description: "Report whether the embedding model is loaded and the similarity index is ready, with the number of indexed vectors.",
	}, s.handleIndexHealth)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolRebuildIndex,
		Description: "Start a background rebuild of the similarity index from the catalog. Does nothing if a rebuild is already running.",
	}, s.handleRebuildIndex)
}

// === TOOL HANDLERS ===

// SearchProjectsInput defines the input for search_projects
type SearchProjectsInput struct {
	Query  string   `json:"query" jsonschema:"Free-text description of what to look for"`
	Limit  int      `json:"limit,omitempty" jsonschema:"Maximum number of ids to return. Default: server setting (5)"`
	Subset []string `json:"subset,omitempty" jsonschema:"Optional list of record ids to restrict results to"`
}

// SearchProjectsOutput is the JSON payload returned by search_projects
type SearchProjectsOutput struct {
	SimilarProjectIDs []string `json:"similar_project_ids"`
}

func (s *SearchServer) handleSearchProjects(ctx context.Context, req *mcp.CallToolRequest, input SearchProjectsInput) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Search request", "query", input.Query, "limit", input.Limit, "subset_size", len(input.Subset))

	ids, err := s.backend.Search(ctx, input.Query, input.Limit, input.Subset)
	if err != nil {
		s.logger.Warn("Search failed", "error", err)
		return errorResult(describeSearchError(err)), nil, nil
	}

	return jsonResult(SearchProjectsOutput{SimilarProjectIDs: ids})
}

// IndexHealthInput defines the (empty) input for index_health
type IndexHealthInput struct{}

func (s *SearchServer) handleIndexHealth(ctx context.Context, req *mcp.CallToolRequest, input IndexHealthInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(s.backend.Health())
}

// RebuildIndexInput defines the (empty) input for rebuild_index
type RebuildIndexInput struct{}

// RebuildIndexOutput is the JSON payload returned by rebuild_index
type RebuildIndexOutput struct {
	Status string `json:"status"`
}

func (s *SearchServer) handleRebuildIndex(ctx context.Context, req *mcp.CallToolRequest, input RebuildIndexInput) (*mcp.CallToolResult, any, error) {
	status := "accepted"
	if !s.backend.TriggerRebuild() {
		status = "already_running"
	}
	s.logger.Info("Rebuild requested", "status", status)

	return jsonResult(RebuildIndexOutput{Status: status})
}

// describeSearchError turns search sentinels into caller-facing messages
func describeSearchError(err error) string {
	switch {
	case errors.Is(err, search.ErrIndexNotReady):
		return "index not ready: the similarity index is still building, retry later"
	case errors.Is(err, search.ErrQueryEncode):
		return fmt.Sprintf("invalid query: %v", err)
	default:
		return fmt.Sprintf("search failed: %v", err)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(resultJSON)},
		},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}
