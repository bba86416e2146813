package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/link"
	"github.com/ziadkadry99/tracegraph/internal/logs"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

func call(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

// extractText gets the text content from a CallToolResult.
func extractText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func newTestServer(t *testing.T, populate bool) *Server {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	g := graph.NewStore(d)
	catalog := workflow.NewStore(d)
	if !populate {
		return NewServer(g, catalog)
	}

	ctx := context.Background()
	nodes := []model.CodeNode{
		{Name: "place_order", Kind: model.KindFunction, Service: "orchestrator", Summary: "Place an order.",
			Snippet: "def place_order(order) -> dict:", FilePath: "orchestrator/src/main.py", Line: 12},
		{Name: "validate_order", Kind: model.KindFunction, Service: "orchestrator", Summary: "Validate the order."},
		{Name: "assess_risk", Kind: model.KindFunction, Service: "risk_service", Summary: "Assess risk."},
	}
	rels := []model.Relationship{
		{Type: model.RelCalls, SourceName: "place_order", SourceKind: model.KindFunction, SourceService: "orchestrator",
			TargetName: "validate_order", TargetKind: model.KindFunction, TargetService: "orchestrator", CallOrder: 1},
		{Type: model.RelAPICalls, SourceName: "place_order", SourceKind: model.KindFunction, SourceService: "orchestrator",
			TargetName: "assess_risk", TargetKind: model.KindFunction, TargetService: "risk_service", CallOrder: 2},
	}
	if _, err := g.ReplaceCodeGraph(ctx, nodes, rels); err != nil {
		t.Fatalf("ReplaceCodeGraph: %v", err)
	}

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events, chain := logs.BuildChains([]model.LogEvent{
		{TraceID: "t1", Service: "orchestrator", Level: "INFO", Timestamp: t0, Message: "[place_order] start", Seq: 0},
		{TraceID: "t1", Service: "risk_service", Level: "ERROR", Timestamp: t0.Add(time.Second),
			Message: "[assess_risk] Risk assessment failed", Seq: 1},
	})
	if _, err := g.ReplaceTraces(ctx, events, chain); err != nil {
		t.Fatalf("ReplaceTraces: %v", err)
	}
	if _, err := link.New(g, link.Options{
		ErrorPatterns:       []config.ErrorPattern{{Pattern: "Risk assessment failed", Function: "assess_risk"}},
		ServiceContextLimit: 10,
	}).Link(ctx); err != nil {
		t.Fatalf("Link: %v", err)
	}
	engine := workflow.NewEngine(g, catalog, workflow.Options{OrchestratorService: "orchestrator"})
	if _, _, err := engine.Precompute(ctx); err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	return NewServer(g, catalog)
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		wantName string
	}{
		{listWorkflowsTool, "list_workflows"},
		{workflowsByFunctionTool, "workflows_by_function"},
		{workflowsByServiceTool, "workflows_by_service"},
		{workflowDetailsTool, "workflow_details"},
		{rcaContextTool, "rca_context"},
		{traceReportTool, "trace_report"},
		{searchNodesTool, "search_nodes"},
		{graphStatsTool, "graph_stats"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description should not be empty")
			}
		})
	}
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(t, false)
	if srv.mcp == nil {
		t.Fatal("MCP server not initialized")
	}
	if srv.rca == nil {
		t.Fatal("RCA service not initialized")
	}
}

func TestHandleListWorkflows(t *testing.T) {
	empty := call(t, newTestServer(t, false).handleListWorkflows, nil)
	if !strings.Contains(extractText(empty), "catalog is empty") {
		t.Errorf("empty catalog text = %q", extractText(empty))
	}

	result := call(t, newTestServer(t, true).handleListWorkflows, nil)
	text := extractText(result)
	if !strings.Contains(text, "place_order (retail): 3 steps") {
		t.Errorf("list text = %q", text)
	}
}

func TestHandleWorkflowsByFunction(t *testing.T) {
	srv := newTestServer(t, true)

	t.Run("found", func(t *testing.T) {
		text := extractText(call(t, srv.handleWorkflowsByFunction, map[string]any{"function": "assess_risk"}))
		if !strings.Contains(text, "step 3/3: assess_risk [risk_service]") {
			t.Errorf("text = %q", text)
		}
		if !strings.Contains(text, "place_order -> validate_order -> assess_risk") {
			t.Errorf("route missing from %q", text)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		result := call(t, srv.handleWorkflowsByFunction, map[string]any{"function": "nope"})
		if result.IsError || !strings.Contains(extractText(result), "No workflows") {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		if result := call(t, srv.handleWorkflowsByFunction, map[string]any{}); !result.IsError {
			t.Error("expected error for missing function")
		}
	})
}

func TestHandleWorkflowsByService(t *testing.T) {
	srv := newTestServer(t, true)
	text := extractText(call(t, srv.handleWorkflowsByService, map[string]any{"service": "risk"}))
	if !strings.Contains(text, "Found 1 workflow(s)") {
		t.Errorf("text = %q", text)
	}
}

func TestHandleWorkflowDetails(t *testing.T) {
	srv := newTestServer(t, true)

	text := extractText(call(t, srv.handleWorkflowDetails, map[string]any{"entry_point": "place_order"}))
	if !strings.Contains(text, "Step 2: validate_order [orchestrator]") || !strings.Contains(text, "Returns: dict") {
		t.Errorf("details = %q", text)
	}

	if result := call(t, srv.handleWorkflowDetails, map[string]any{"entry_point": "validate_order"}); !result.IsError {
		t.Error("expected error for a non entry point")
	}
	if result := call(t, srv.handleWorkflowDetails, map[string]any{}); !result.IsError {
		t.Error("expected error without entry_point or workflow_id")
	}
}

func TestHandleRCAContext(t *testing.T) {
	srv := newTestServer(t, true)
	text := extractText(call(t, srv.handleRCAContext, map[string]any{"function": "assess_risk"}))
	if !strings.Contains(text, "RCA CONTEXT FOR FUNCTION: assess_risk") || !strings.Contains(text, "<<<< TARGET FUNCTION") {
		t.Errorf("context = %q", text)
	}
}

func TestHandleTraceReport(t *testing.T) {
	srv := newTestServer(t, true)

	text := extractText(call(t, srv.handleTraceReport, map[string]any{"trace_id": "t1"}))
	for _, want := range []string{"Trace t1: 2 log event(s)", "Errors:", "assess_risk [risk_service]", "orchestrator -> risk_service (1)"} {
		if !strings.Contains(text, want) {
			t.Errorf("trace report missing %q:\n%s", want, text)
		}
	}

	if result := call(t, srv.handleTraceReport, map[string]any{"trace_id": "absent"}); !result.IsError {
		t.Error("expected error for unknown trace")
	}
}

func TestHandleSearchNodes(t *testing.T) {
	srv := newTestServer(t, true)

	text := extractText(call(t, srv.handleSearchNodes, map[string]any{"query": "order"}))
	if !strings.Contains(text, "Found 2 node(s)") || !strings.Contains(text, "orchestrator/src/main.py:12") {
		t.Errorf("search = %q", text)
	}

	limited := extractText(call(t, srv.handleSearchNodes, map[string]any{"query": "order", "limit": float64(1)}))
	if !strings.Contains(limited, "... and 1 more") {
		t.Errorf("limited search = %q", limited)
	}

	none := extractText(call(t, srv.handleSearchNodes, map[string]any{"query": "order", "service": "risk_service"}))
	if none != "No matching code nodes." {
		t.Errorf("filtered search = %q", none)
	}
}

func TestHandleGraphStats(t *testing.T) {
	srv := newTestServer(t, true)
	text := extractText(call(t, srv.handleGraphStats, nil))
	for _, want := range []string{"Services: 2", "Code nodes: 3", "CALLS: 1", "Log events: 2 (1 errors) in 1 traces", "Workflows: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("stats missing %q:\n%s", want, text)
		}
	}
}
