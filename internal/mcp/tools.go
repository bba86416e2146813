package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listWorkflowsTool = mcp.NewTool("list_workflows",
	mcp.WithDescription("List every precomputed workflow with its type, route length and involved services."),
)

// workflowsByFunctionTool finds the workflows whose route contains a function.
var workflowsByFunctionTool = mcp.NewTool("workflows_by_function",
	mcp.WithDescription("Find the workflows that execute a function, with the step at which it runs. Use this first when an error names a function."),
	mcp.WithString("function",
		mcp.Required(),
		mcp.Description("Exact function name"),
	),
)

var workflowsByServiceTool = mcp.NewTool("workflows_by_service",
	mcp.WithDescription("Find the workflows with a step in a service. Matches service names containing the value."),
	mcp.WithString("service",
		mcp.Required(),
		mcp.Description("Service name or part of it"),
	),
)

// workflowDetailsTool returns a full workflow with its ordered steps.
var workflowDetailsTool = mcp.NewTool("workflow_details",
	mcp.WithDescription("Get a workflow's ordered steps with summaries and data contracts."),
	mcp.WithString("entry_point",
		mcp.Description("Entry point function name of the workflow"),
	),
	mcp.WithNumber("workflow_id",
		mcp.Description("Workflow id, used when entry_point is not given"),
	),
)

var rcaContextTool = mcp.NewTool("rca_context",
	mcp.WithDescription("Get the root cause analysis context of a function: every workflow it takes part in, step by step, with the target function marked."),
	mcp.WithString("function",
		mcp.Required(),
		mcp.Description("Function name to analyze"),
	),
)

var traceReportTool = mcp.NewTool("trace_report",
	mcp.WithDescription("Describe a request trace: its log events, the functions they were linked to, the errors and the service transitions."),
	mcp.WithString("trace_id",
		mcp.Required(),
		mcp.Description("Trace id"),
	),
)

var searchNodesTool = mcp.NewTool("search_nodes",
	mcp.WithDescription("Search code nodes by name, optionally restricted to a service or kind."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Part of the node name"),
	),
	mcp.WithString("service",
		mcp.Description("Service name"),
	),
	mcp.WithString("kind",
		mcp.Description("Node kind"),
		mcp.Enum("function", "method", "class", "endpoint"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results to return (default 20)"),
	),
)

var graphStatsTool = mcp.NewTool("graph_stats",
	mcp.WithDescription("Get node, relationship, log and workflow counts of the knowledge graph."),
)
