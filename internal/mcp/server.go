package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/rca"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the knowledge graph and RCA
// queries as tools.
type Server struct {
	graph   *graph.Store
	catalog *workflow.Store
	rca     *rca.Service
	mcp     *server.MCPServer
}

// NewServer creates a new MCP server over the given stores.
func NewServer(g *graph.Store, catalog *workflow.Store) *Server {
	s := &Server{
		graph:   g,
		catalog: catalog,
		rca:     rca.NewService(g, catalog),
	}

	s.mcp = server.NewMCPServer(
		"tracegraph",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(listWorkflowsTool, s.handleListWorkflows)
	s.mcp.AddTool(workflowsByFunctionTool, s.handleWorkflowsByFunction)
	s.mcp.AddTool(workflowsByServiceTool, s.handleWorkflowsByService)
	s.mcp.AddTool(workflowDetailsTool, s.handleWorkflowDetails)
	s.mcp.AddTool(rcaContextTool, s.handleRCAContext)
	s.mcp.AddTool(traceReportTool, s.handleTraceReport)
	s.mcp.AddTool(searchNodesTool, s.handleSearchNodes)
	s.mcp.AddTool(graphStatsTool, s.handleGraphStats)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
