// Package workflow discovers the business workflows of the call graph,
// starting from the orchestrator's entry points, and maintains the
// precomputed workflow catalog used for RCA lookups.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Options configures an Engine.
type Options struct {
	OrchestratorService string
	MaxDepth            int
	SummarySteps        int
	FieldsAccessedLimit int
	Logger              *slog.Logger
}

// Engine computes workflows from the stored graph.
type Engine struct {
	graph   *graph.Store
	catalog *Store
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates an Engine reading g and writing catalog.
func NewEngine(g *graph.Store, catalog *Store, opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}
	return &Engine{graph: g, catalog: catalog, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// CallGraph is the in-memory view of code nodes and their call edges.
type CallGraph struct {
	nodes    map[string]model.CodeNode
	out      map[string][]model.Relationship
	incoming map[string]int // incoming CALLS edges per node
}

// LoadCallGraph reads code nodes and CALLS/API_CALLS edges. Each node's
// outgoing edges are ordered by call order, then line number.
func LoadCallGraph(ctx context.Context, g *graph.Store) (*CallGraph, error) {
	nodes, err := g.Nodes(ctx, graph.NodeFilter{})
	if err != nil {
		return nil, err
	}
	rels, err := g.Relationships(ctx, graph.RelFilter{Types: []model.RelType{model.RelCalls, model.RelAPICalls}})
	if err != nil {
		return nil, err
	}

	cg := &CallGraph{
		nodes:    make(map[string]model.CodeNode, len(nodes)),
		out:      make(map[string][]model.Relationship),
		incoming: make(map[string]int),
	}
	for _, n := range nodes {
		cg.nodes[n.ID] = n
	}
	for _, r := range rels {
		cg.out[r.SourceID] = append(cg.out[r.SourceID], r)
		if r.Type == model.RelCalls {
			cg.incoming[r.TargetID]++
		}
	}
	for id := range cg.out {
		edges := cg.out[id]
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].CallOrder != edges[j].CallOrder {
				return edges[i].CallOrder < edges[j].CallOrder
			}
			return edges[i].LineNumber < edges[j].LineNumber
		})
	}
	return cg, nil
}

// EntryPoints returns the functions of service with no incoming CALLS
// edge, sorted by name.
func (cg *CallGraph) EntryPoints(service string) []model.CodeNode {
	var out []model.CodeNode
	for id, n := range cg.nodes {
		if n.Service == service && n.Kind == model.KindFunction && cg.incoming[id] == 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Route follows call edges depth-first from the entry node in call order,
// up to maxDepth levels including the entry. Each node is emitted once, at
// its first visit. A node reached again is expanded again only when reached
// at a shallower depth, so a repeat at the same or a deeper level (a cycle)
// ends that branch.
func (cg *CallGraph) Route(entryID string, maxDepth int) []model.CodeNode {
	var route []model.CodeNode
	depthOf := make(map[string]int)
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		n, ok := cg.nodes[id]
		if !ok {
			return
		}
		if d, seen := depthOf[id]; seen {
			if depth >= d {
				return
			}
		} else {
			route = append(route, n)
		}
		depthOf[id] = depth
		if depth >= maxDepth {
			return
		}
		for _, e := range cg.out[id] {
			walk(e.TargetID, depth+1)
		}
	}
	walk(entryID, 1)
	return route
}

// Build computes the workflow of an entry point.
func (e *Engine) Build(cg *CallGraph, entry model.CodeNode) *Details {
	route := cg.Route(entry.ID, e.opts.MaxDepth)
	wf := &Details{}
	wf.EntryPointName = entry.Name
	wf.Type = Classify(entry.Name)
	for i, n := range route {
		wf.Route = append(wf.Route, n.Name)
		wf.Steps = append(wf.Steps, model.WorkflowFunction{
			FunctionName: n.Name,
			StepOrder:    i + 1,
			ServiceName:  n.Service,
			Summary:      n.Summary,
			DataContract: ExtractContract(n.Name, n.Snippet, e.opts.FieldsAccessedLimit),
		})
	}
	wf.TotalSteps = len(route)
	wf.ServicesInvolved = ServicesOf(wf.Steps)
	wf.Summary = Summarize(wf.Steps, e.opts.SummarySteps)
	return wf
}

// Report are the workflow phase counts.
type Report struct {
	EntryPoints int `json:"entry_points"`
	Workflows   int `json:"workflows"`
	Steps       int `json:"steps"`
}

// Precompute discovers every workflow and replaces the catalog with them.
func (e *Engine) Precompute(ctx context.Context) (*Report, []*Details, error) {
	cg, err := LoadCallGraph(ctx, e.graph)
	if err != nil {
		return nil, nil, fmt.Errorf("loading call graph: %w", err)
	}

	entries := cg.EntryPoints(e.opts.OrchestratorService)
	report := &Report{EntryPoints: len(entries)}
	var workflows []*Details
	for _, entry := range entries {
		wf := e.Build(cg, entry)
		if wf.TotalSteps == 0 {
			continue
		}
		workflows = append(workflows, wf)
		report.Steps += wf.TotalSteps
		e.logger.Debug("workflow discovered", "entry_point", entry.Name, "type", wf.Type, "steps", wf.TotalSteps)
	}
	report.Workflows = len(workflows)

	if err := e.catalog.Replace(ctx, workflows); err != nil {
		return nil, nil, err
	}
	e.logger.Info("workflows precomputed",
		"entry_points", report.EntryPoints,
		"workflows", report.Workflows,
		"steps", report.Steps)
	return report, workflows, nil
}
