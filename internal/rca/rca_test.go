package rca

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/link"
	"github.com/ziadkadry99/tracegraph/internal/logs"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

func fn(name, svc, summary, snippet string) model.CodeNode {
	return model.CodeNode{Name: name, Kind: model.KindFunction, Service: svc, Summary: summary, Snippet: snippet}
}

func edge(typ model.RelType, src, srcSvc, dst, dstSvc string, order int) model.Relationship {
	return model.Relationship{
		Type: typ, SourceName: src, SourceKind: model.KindFunction, SourceService: srcSvc,
		TargetName: dst, TargetKind: model.KindFunction, TargetService: dstSvc, CallOrder: order,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()
	g := graph.NewStore(d)

	nodes := []model.CodeNode{
		fn("place_order", "orchestrator", "Place an order.", "def place_order(order) -> dict:\n    order.get('symbol')"),
		fn("validate_order", "orchestrator", "Validate the order.", "def validate_order(order):"),
		fn("cancel_order", "orchestrator", "Cancel an order.", "def cancel_order(order_id):"),
		fn("assess_risk", "risk_service", "Assess risk.", "def assess_risk(request):"),
		fn("get_price", "pricing_service", "Fetch a price.", "def get_price(symbol):"),
	}
	rels := []model.Relationship{
		edge(model.RelCalls, "place_order", "orchestrator", "validate_order", "orchestrator", 1),
		edge(model.RelAPICalls, "place_order", "orchestrator", "assess_risk", "risk_service", 2),
		edge(model.RelAPICalls, "assess_risk", "risk_service", "get_price", "pricing_service", 1),
		edge(model.RelAPICalls, "cancel_order", "orchestrator", "assess_risk", "risk_service", 1),
	}
	if _, err := g.ReplaceCodeGraph(ctx, nodes, rels); err != nil {
		t.Fatalf("ReplaceCodeGraph: %v", err)
	}

	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events, chain := logs.BuildChains([]model.LogEvent{
		{TraceID: "t1", Service: "orchestrator", Level: "INFO", Timestamp: t0, Message: "[place_order] start", Seq: 0},
		{TraceID: "t1", Service: "risk_service", Level: "ERROR", Timestamp: t0.Add(time.Second),
			Message: "[assess_risk] Risk assessment failed", Seq: 1},
		{TraceID: "t1", Service: "orchestrator", Level: "INFO", Timestamp: t0.Add(2 * time.Second),
			Message: "[place_order] done", Seq: 2},
	})
	if _, err := g.ReplaceTraces(ctx, events, chain); err != nil {
		t.Fatalf("ReplaceTraces: %v", err)
	}
	linker := link.New(g, link.Options{
		ErrorPatterns:       []config.ErrorPattern{{Pattern: "Risk assessment failed", Function: "assess_risk"}},
		ServiceContextLimit: 10,
	})
	if _, err := linker.Link(ctx); err != nil {
		t.Fatalf("Link: %v", err)
	}

	catalog := workflow.NewStore(d)
	engine := workflow.NewEngine(g, catalog, workflow.Options{
		OrchestratorService: "orchestrator", MaxDepth: 10, SummarySteps: 5, FieldsAccessedLimit: 10,
	})
	if _, _, err := engine.Precompute(ctx); err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	return NewService(g, catalog)
}

func TestByFunctionAndService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hits, err := svc.ByFunction(ctx, "assess_risk")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	// Both workflows are retail or common; common sorts first.
	if hits[0].EntryPointName != "cancel_order" || hits[0].StepOrder != 2 {
		t.Errorf("hit[0] = %+v", hits[0])
	}
	if hits[1].EntryPointName != "place_order" || hits[1].StepOrder != 3 {
		t.Errorf("hit[1] = %+v", hits[1])
	}

	bySvc, err := svc.ByService(ctx, "pricing")
	if err != nil {
		t.Fatal(err)
	}
	if len(bySvc) != 2 {
		t.Errorf("by service = %+v", bySvc)
	}

	none, err := svc.ByFunction(ctx, "unknown")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown function = %v, %v", none, err)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 2 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestWorkflows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	d, err := svc.Workflows(ctx, "place_order")
	if err != nil {
		t.Fatal(err)
	}
	if !d.EntryPoint || len(d.Workflows) != 1 || d.Workflows[0].TotalSteps != 4 {
		t.Fatalf("entry details = %+v", d)
	}

	d, err = svc.Workflows(ctx, "get_price")
	if err != nil {
		t.Fatal(err)
	}
	if d.EntryPoint || len(d.Workflows) != 2 {
		t.Fatalf("internal details = %+v", d)
	}
	for _, wf := range d.Workflows {
		if wf.Steps[len(wf.Steps)-1].FunctionName != "get_price" {
			t.Errorf("%s does not end at get_price: %v", wf.EntryPointName, wf.Route)
		}
	}
}

func TestContext(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	text, err := svc.Context(ctx, "place_order")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"RCA CONTEXT FOR FUNCTION: place_order",
		"Function Type: ENTRY POINT",
		"Step 1/4: place_order [orchestrator] <<<< TARGET FUNCTION",
		"  Parameters: order\n",
		"  Returns: dict\n",
		"  Accesses: symbol\n",
		"Step 3/4: assess_risk [risk_service]\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("context missing %q:\n%s", want, text)
		}
	}

	text, err = svc.Context(ctx, "assess_risk")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Workflows Affected: 2") || strings.Count(text, "<<<< TARGET FUNCTION") != 2 {
		t.Errorf("internal context:\n%s", text)
	}

	text, _ = svc.Context(ctx, "nothing")
	if text != "No workflows found containing function 'nothing'" {
		t.Errorf("empty context = %q", text)
	}
}

func TestTrace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	report, err := svc.Trace(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Events) != 3 || report.Events[1].Service != "risk_service" {
		t.Fatalf("events = %+v", report.Events)
	}
	if len(report.Executed) != 3 || report.Coverage() != 100 {
		t.Errorf("executed = %d, coverage = %.1f", len(report.Executed), report.Coverage())
	}
	if len(report.Functions) != 2 || report.Functions[0].Name != "place_order" || report.Functions[0].Logs != 2 {
		t.Errorf("functions = %+v", report.Functions)
	}
	if len(report.Errors) != 1 || report.Errors[0].Function != "assess_risk" || report.Errors[0].Event.Level != "ERROR" {
		t.Errorf("errors = %+v", report.Errors)
	}
	if report.NextLogLinks != 2 || len(report.Transitions) != 2 {
		t.Fatalf("next_log = %d, transitions = %+v", report.NextLogLinks, report.Transitions)
	}
	if tr := report.Transitions[0]; tr.From != "orchestrator" || tr.To != "risk_service" || tr.Count != 1 {
		t.Errorf("transition[0] = %+v", tr)
	}

	if _, err := svc.Trace(ctx, "missing"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("missing trace err = %v", err)
	}

	traces, err := svc.Traces(ctx)
	if err != nil || len(traces) != 1 || traces[0].Events != 3 {
		t.Errorf("traces = %+v, %v", traces, err)
	}
}

func TestRoutes(t *testing.T) {
	svc := newTestService(t)
	r := chi.NewRouter()
	RegisterRoutes(r, svc)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/api/rca/function/assess_risk", http.StatusOK, `"entry_point_name":"cancel_order"`},
		{"/api/rca/service/risk", http.StatusOK, `"place_order"`},
		{"/api/rca/workflow/place_order", http.StatusOK, `"entry_point":true`},
		{"/api/rca/workflow/nothing", http.StatusNotFound, "no workflows"},
		{"/api/rca/context/get_price", http.StatusOK, "<<<< TARGET FUNCTION"},
		{"/api/traces", http.StatusOK, `"trace_id":"t1"`},
		{"/api/traces/t1", http.StatusOK, `"next_log_links":2`},
		{"/api/traces/none", http.StatusNotFound, "trace not found"},
		{"/api/traces/t1/diagram", http.StatusOK, "orchestrator-xrisk_service: ERROR #lsqb;assess_risk#rsqb; Risk assessment failed"},
		{"/api/traces/none/diagram", http.StatusNotFound, "trace not found"},
		{"/api/rca/function/unknown", http.StatusOK, "[]"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.status {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.status)
			continue
		}
		if !strings.Contains(w.Body.String(), tt.contains) {
			t.Errorf("GET %s body %q missing %q", tt.path, w.Body.String(), tt.contains)
		}
	}
}
