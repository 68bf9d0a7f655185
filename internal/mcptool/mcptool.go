// Package mcptool exposes the knowledge base to agents over the Model
// Context Protocol. One tool, search_knowledge_base, returns a plain-text
// rendering of the top matches. The tool never raises: every failure comes
// back as a readable message so an agent loop is never interrupted by an
// infrastructure error.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/store"
)

const (
	serverName = "candlekeep"

	noResultsMessage = "No relevant information found in the knowledge base."
	errorPrefix      = "Error searching knowledge base: "
)

// SearchInput is the tool's parameter schema.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the search query"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"number of results to return, default 5"`
	SearchType string `json:"search_type,omitempty" jsonschema:"semantic or hybrid, default semantic"`
}

// SearchOutput carries the rendered result text.
type SearchOutput struct {
	Text string `json:"text"`
}

// Server wraps the retrieval engine behind an MCP stdio server.
type Server struct {
	engine  *search.Engine
	filter  store.Filter
	version string
	logger  *slog.Logger
	mcp     *mcp.Server
}

// New creates the MCP server and registers the search tool. The filter
// scopes every tool call to one corpus partition.
func New(engine *search.Engine, filter store.Filter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		filter:  filter,
		version: version,
		logger:  logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_knowledge_base",
		Description: "Search the knowledge base for relevant information. " +
			"Returns the most relevant document excerpts for the query. " +
			"Use search_type=hybrid to combine semantic and keyword matching.",
	}, s.handleSearch)

	return s
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.String("transport", "stdio"))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// handleSearch executes one tool call. Errors are rendered into the output
// text, never returned, so the tool contract holds under any failure.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	return nil, SearchOutput{Text: s.search(ctx, input)}, nil
}

func (s *Server) search(ctx context.Context, input SearchInput) string {
	if strings.TrimSpace(input.Query) == "" {
		return errorPrefix + "query is empty"
	}

	mode := search.ModeSemantic
	switch input.SearchType {
	case "", "semantic":
	case "hybrid":
		mode = search.ModeHybrid
	default:
		return errorPrefix + fmt.Sprintf("unknown search_type %q (want semantic or hybrid)", input.SearchType)
	}

	results, info, err := s.engine.Query(ctx, search.QueryOptions{
		Text:   input.Query,
		K:      input.MatchCount,
		Mode:   mode,
		Filter: s.filter,
	})
	if err != nil {
		s.logger.Warn("tool search failed", slog.String("error", err.Error()))
		return errorPrefix + err.Error()
	}
	if len(results) == 0 {
		return noResultsMessage
	}
	if info.Degraded {
		s.logger.Warn("tool search degraded", slog.String("warning", info.Warning))
	}

	return Render(results)
}

// Render formats results for an agent: a header line per document followed
// by the chunk text, results separated by blank lines.
func Render(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Document %d: %s (relevance: %.4f) ---\n", i+1, r.DocumentTitle, r.Score)
		b.WriteString(r.Chunk.Content)
	}
	return b.String()
}
