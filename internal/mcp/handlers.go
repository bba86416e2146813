package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/rca"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

const notBuilt = "The workflow catalog is empty. Run `tracegraph ingest` to build it."

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wfs, err := s.rca.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing workflows failed: %v", err)), nil
	}
	if len(wfs) == 0 {
		return mcp.NewToolResultText(notBuilt), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d workflow(s):\n\n", len(wfs)))
	for _, wf := range wfs {
		sb.WriteString(fmt.Sprintf("- [%d] %s (%s): %d steps across %s\n",
			wf.ID, wf.EntryPointName, wf.Type, wf.TotalSteps, strings.Join(wf.ServicesInvolved, ", ")))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// handleWorkflowsByFunction lists the workflows containing a function.
func (s *Server) handleWorkflowsByFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	function, err := request.RequireString("function")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: function"), nil
	}
	hits, err := s.rca.ByFunction(ctx, function)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No workflows contain function %q.", function)), nil
	}
	return mcp.NewToolResultText(formatHits(hits)), nil
}

func (s *Server) handleWorkflowsByService(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	service, err := request.RequireString("service")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: service"), nil
	}
	hits, err := s.rca.ByService(ctx, service)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No workflows involve service %q.", service)), nil
	}
	return mcp.NewToolResultText(formatHits(hits)), nil
}

// handleWorkflowDetails looks a workflow up by entry point, or by id when no
// entry point is given.
func (s *Server) handleWorkflowDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		wf  *workflow.Details
		err error
	)
	if entry := request.GetString("entry_point", ""); entry != "" {
		wf, err = s.catalog.GetByEntryPoint(ctx, entry)
	} else if id := request.GetInt("workflow_id", 0); id > 0 {
		wf, err = s.catalog.Get(ctx, int64(id))
	} else {
		return mcp.NewToolResultError("one of entry_point or workflow_id is required"), nil
	}
	if errors.Is(err, graph.ErrNotFound) {
		return mcp.NewToolResultError("workflow not found"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading workflow failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatWorkflow(wf)), nil
}

func (s *Server) handleRCAContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	function, err := request.RequireString("function")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: function"), nil
	}
	text, err := s.rca.Context(ctx, function)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("building context failed: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleTraceReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID, err := request.RequireString("trace_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: trace_id"), nil
	}
	report, err := s.rca.Trace(ctx, traceID)
	if errors.Is(err, graph.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No log events stored for trace %q.", traceID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading trace failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTrace(report)), nil
}

func (s *Server) handleSearchNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	nodes, err := s.graph.Nodes(ctx, graph.NodeFilter{
		NameLike: query,
		Service:  request.GetString("service", ""),
		Kind:     model.NodeKind(request.GetString("kind", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(nodes) == 0 {
		return mcp.NewToolResultText("No matching code nodes."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d node(s):\n", len(nodes)))
	for i, n := range nodes {
		if i == limit {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(nodes)-limit))
			break
		}
		location := n.FilePath
		if n.Line > 0 {
			location += fmt.Sprintf(":%d", n.Line)
		}
		sb.WriteString(fmt.Sprintf("\n%s (%s) [%s] %s\n", n.Name, n.Kind, n.Service, location))
		if n.Summary != "" {
			sb.WriteString("  " + n.Summary + "\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGraphStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.graph.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Services: %d\nCode nodes: %d\n", st.Services, st.TotalNodes()))
	for _, k := range sortedKeys(st.Nodes) {
		sb.WriteString(fmt.Sprintf("  %s: %d\n", k, st.Nodes[model.NodeKind(k)]))
	}
	sb.WriteString(fmt.Sprintf("Relationships: %d\n", st.TotalRelationships()))
	for _, k := range sortedKeys(st.Relationships) {
		sb.WriteString(fmt.Sprintf("  %s: %d\n", k, st.Relationships[model.RelType(k)]))
	}
	sb.WriteString(fmt.Sprintf("Log events: %d (%d errors) in %d traces\nWorkflows: %d\n",
		st.LogEvents, st.ErrorEvents, st.Traces, st.Workflows))
	return mcp.NewToolResultText(sb.String()), nil
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func formatHits(hits []workflow.Hit) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d workflow(s):\n", len(hits)))
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("\n- %s (%s), step %d/%d: %s [%s]\n",
			h.EntryPointName, h.Type, h.StepOrder, h.TotalSteps, h.Function, h.Service))
		sb.WriteString("  Route: " + strings.Join(h.Route, " -> ") + "\n")
	}
	return sb.String()
}

// formatWorkflow renders a workflow and its steps for agent consumption.
func formatWorkflow(wf *workflow.Details) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Workflow %d: %s (%s)\n", wf.ID, wf.EntryPointName, wf.Type))
	sb.WriteString(fmt.Sprintf("Summary: %s\n", wf.Summary))
	sb.WriteString(fmt.Sprintf("Services: %s\n\n", strings.Join(wf.ServicesInvolved, ", ")))
	for _, step := range wf.Steps {
		sb.WriteString(fmt.Sprintf("Step %d: %s [%s]\n", step.StepOrder, step.FunctionName, step.ServiceName))
		if step.Summary != "" {
			sb.WriteString("  Purpose: " + step.Summary + "\n")
		}
		dc := step.DataContract
		if len(dc.Parameters) > 0 {
			sb.WriteString("  Parameters: " + strings.Join(dc.Parameters, ", ") + "\n")
		}
		if dc.ReturnType != "" {
			sb.WriteString("  Returns: " + dc.ReturnType + "\n")
		}
		if len(dc.FieldsAccessed) > 0 {
			sb.WriteString("  Accesses: " + strings.Join(dc.FieldsAccessed, ", ") + "\n")
		}
	}
	return sb.String()
}

func formatTrace(r *rca.TraceReport) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Trace %s: %d log event(s), %.0f%% linked to code\n", r.TraceID, len(r.Events), r.Coverage()))

	if len(r.Functions) > 0 {
		sb.WriteString("\nFunctions executed:\n")
		for _, f := range r.Functions {
			sb.WriteString(fmt.Sprintf("- %s [%s]: %d log(s)\n", f.Name, f.Service, f.Logs))
		}
	}
	if len(r.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for _, e := range r.Errors {
			sb.WriteString(fmt.Sprintf("- %s [%s] at %s: %s\n",
				e.Function, e.Service, e.Event.Timestamp.Format("15:04:05.000"), e.Event.Message))
		}
	}
	if len(r.Transitions) > 0 {
		sb.WriteString("\nService transitions:\n")
		for _, t := range r.Transitions {
			sb.WriteString(fmt.Sprintf("- %s -> %s (%d)\n", t.From, t.To, t.Count))
		}
	}

	sb.WriteString("\nTimeline:\n")
	for _, e := range r.Events {
		sb.WriteString(fmt.Sprintf("%s %-5s [%s] %s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Service, e.Message))
	}
	return sb.String()
}
