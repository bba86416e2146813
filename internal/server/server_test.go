package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *graph.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	g := graph.NewStore(database)
	catalog := workflow.NewStore(database)

	nodes := []model.CodeNode{
		{Name: "place_order", Kind: model.KindFunction, Service: "orchestrator"},
		{Name: "validate_order", Kind: model.KindFunction, Service: "orchestrator"},
	}
	rels := []model.Relationship{{
		Type: model.RelCalls, SourceName: "place_order", SourceKind: model.KindFunction, SourceService: "orchestrator",
		TargetName: "validate_order", TargetKind: model.KindFunction, TargetService: "orchestrator", CallOrder: 1,
	}}
	if _, err := g.ReplaceCodeGraph(context.Background(), nodes, rels); err != nil {
		t.Fatalf("ReplaceCodeGraph: %v", err)
	}
	engine := workflow.NewEngine(g, catalog, workflow.Options{OrchestratorService: "orchestrator"})
	if _, _, err := engine.Precompute(context.Background()); err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	return New(cfg, g, catalog, nil), g
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, Config{Port: 0})

	w := get(t, srv, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestRequestLogging(t *testing.T) {
	srv, g := newTestServer(t, Config{})
	var buf bytes.Buffer
	srv = New(Config{}, g, workflow.NewStore(g.DB()), logging.New(&buf, slog.LevelDebug))

	if w := get(t, srv, "/api/nodes/missing"); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	out := buf.String()
	for _, want := range []string{"http request", "method=GET", "path=/api/nodes/missing", "status=404"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Config{Port: 0, AllowAll: true})

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	w := get(t, srv, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st graph.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Nodes[model.KindFunction] != 2 || st.Relationships[model.RelCalls] != 1 || st.Workflows != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNodes(t *testing.T) {
	srv, g := newTestServer(t, Config{})

	w := get(t, srv, "/api/nodes?q=valid")
	var nodes []model.CodeNode
	if err := json.Unmarshal(w.Body.Bytes(), &nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].Name != "validate_order" {
		t.Fatalf("nodes = %+v", nodes)
	}

	if w := get(t, srv, "/api/nodes?service=absent"); w.Body.String() != "[]\n" {
		t.Errorf("empty list = %q", w.Body.String())
	}

	if w := get(t, srv, "/api/nodes/"+nodes[0].ID); w.Code != http.StatusOK {
		t.Errorf("node status = %d", w.Code)
	}
	if w := get(t, srv, "/api/nodes/missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d", w.Code)
	}

	place, _ := g.Nodes(context.Background(), graph.NodeFilter{Name: "place_order"})
	w = get(t, srv, "/api/nodes/"+place[0].ID+"/relationships")
	var rels struct {
		Outgoing []model.Relationship `json:"outgoing"`
		Incoming []model.Relationship `json:"incoming"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rels); err != nil {
		t.Fatal(err)
	}
	if len(rels.Outgoing) != 1 || rels.Outgoing[0].TargetName != "validate_order" || len(rels.Incoming) != 0 {
		t.Errorf("relationships = %+v", rels)
	}
}

func TestFeatureRoutesMounted(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	for _, path := range []string{"/api/workflows", "/api/workflows/entry/place_order", "/api/rca/function/validate_order", "/api/traces", "/api/audit/"} {
		if w := get(t, srv, path); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, w.Code)
		}
	}
}
