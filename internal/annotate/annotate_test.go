package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/llm"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// mockProvider answers with a JSON summary derived from the prompt, or an
// error for names listed in fail.
type mockProvider struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	prompt := req.Messages[len(req.Messages)-1].Content
	name := strings.TrimPrefix(strings.Split(prompt, "\n")[2], "Name: ")
	if m.fail[name] {
		return nil, errors.New("backend unavailable")
	}
	return &llm.CompletionResponse{
		Content:      "```json\n{\"summary\": \"Summarizes " + name + ".\"}\n```",
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func seed(t *testing.T) *graph.Store {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	s := graph.NewStore(d)
	nodes := []model.CodeNode{
		{Name: "place_order", Kind: model.KindFunction, Service: "orchestrator", Summary: "Function in orchestrator",
			Snippet: "def place_order(order):\n    pass"},
		{Name: "Book", Kind: model.KindClass, Service: "orchestrator", Summary: "Class in orchestrator"},
		{Name: "assess_risk", Kind: model.KindFunction, Service: "risk_service", Summary: "Function in risk_service"},
		{Name: "POST /assess", Kind: model.KindEndpoint, Service: "risk_service", APIMethod: "POST", APIEndpoint: "/assess"},
	}
	if _, err := s.ReplaceCodeGraph(context.Background(), nodes, nil); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRequests(t *testing.T) {
	s := seed(t)
	reqs, err := Requests(context.Background(), s, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 3 {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Name != "Book" || reqs[2].Service != "risk_service" || reqs[0].NodeID == "" {
		t.Errorf("requests = %+v", reqs)
	}

	only, _ := Requests(context.Background(), s, "risk_service")
	if len(only) != 1 || only[0].Name != "assess_risk" {
		t.Errorf("service requests = %+v", only)
	}
}

func TestRun_LLM(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	provider := &mockProvider{fail: map[string]bool{"Book": true}}
	a := &LLMAnnotator{Provider: provider, Concurrency: 2}

	report, err := Run(ctx, s, a, "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Candidates != 3 || report.Returned != 2 || report.Updated != 2 {
		t.Errorf("report = %+v", report)
	}
	if provider.calls != 3 {
		t.Errorf("calls = %d", provider.calls)
	}
	if u := a.Usage(); u.Requests != 2 || u.InputTokens != 20 {
		t.Errorf("usage = %+v", u)
	}

	nodes, _ := s.Nodes(ctx, graph.NodeFilter{Name: "place_order"})
	if nodes[0].Summary != "Summarizes place_order." {
		t.Errorf("summary = %q", nodes[0].Summary)
	}
	book, _ := s.Nodes(ctx, graph.NodeFilter{Name: "Book"})
	if book[0].Summary != "Class in orchestrator" {
		t.Errorf("failed node summary changed to %q", book[0].Summary)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &LLMAnnotator{Provider: &mockProvider{}, Concurrency: 1}
	if _, err := Run(ctx, s, a, "", nil); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestFileRoundTrip(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	reqs, err := Requests(ctx, s, "orchestrator")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "nodes.json")
	if err := ExportFile(path, reqs); err != nil {
		t.Fatalf("ExportFile: %v", err)
	}

	var edited []map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &edited); err != nil {
		t.Fatalf("exported JSON: %v", err)
	}
	for _, e := range edited {
		if e["name"] == "place_order" {
			e["new_summary"] = "Places a customer order."
		}
	}
	edited = append(edited, map[string]any{"nodeId": "unknown-node", "summary": "ignored"})
	data, _ = json.Marshal(edited)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Run(ctx, s, &FileAnnotator{Path: path}, "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Book keeps its exported summary unchanged and is not re-applied.
	if report.Returned != 1 || report.Updated != 1 {
		t.Errorf("report = %+v", report)
	}
	nodes, _ := s.Nodes(ctx, graph.NodeFilter{Name: "place_order"})
	if nodes[0].Summary != "Places a customer order." {
		t.Errorf("summary = %q", nodes[0].Summary)
	}
}

func TestFileAnnotator_Errors(t *testing.T) {
	a := &FileAnnotator{Path: filepath.Join(t.TempDir(), "missing.json")}
	if _, err := a.Annotate(context.Background(), nil); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := (&FileAnnotator{Path: bad}).Annotate(context.Background(), nil); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("export = %q", buf.String())
	}
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"summary": " Does things. "}`, "Does things.", false},
		{"Sure!\n```json\n{\"summary\":\"Fenced.\"}\n```", "Fenced.", false},
		{`{"other": 1}`, "", false},
		{"no json here", "", true},
	}
	for _, tt := range tests {
		got, err := parseSummary(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSummary(%q) = %q, %v", tt.in, got, err)
		}
	}
}
