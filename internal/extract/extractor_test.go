package extract

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/walker"
)

func newTestExtractor() *Extractor {
	a := config.DefaultConfig().Analysis
	return New(Options{
		SkipFunctions:      a.SkipFunctions,
		SkipClasses:        a.SkipClasses,
		NoiseCalls:         a.NoiseCalls,
		APIClientCalls:     a.APIClientCalls,
		ServiceURLPatterns: a.ServiceURLPatterns,
		RouteDecorators:    a.RouteDecorators,
		Concurrency:        2,
	})
}

func extractString(t *testing.T, service, src string) *FileResult {
	t.Helper()
	r, err := newTestExtractor().ExtractSource(context.Background(), service, service+"/src/app.py", []byte(src))
	if err != nil {
		t.Fatalf("ExtractSource() error: %v", err)
	}
	return r
}

func findNode(nodes []model.CodeNode, name string, kind model.NodeKind) *model.CodeNode {
	for i := range nodes {
		if nodes[i].Name == name && nodes[i].Kind == kind {
			return &nodes[i]
		}
	}
	return nil
}

func relsOfType(rels []model.Relationship, typ model.RelType) []model.Relationship {
	var out []model.Relationship
	for _, r := range rels {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestExtractSource_FunctionsAndMethods(t *testing.T) {
	src := `
def top(a, b=1, *args, **kwargs):
    """Top level function.

    More detail here.
    """
    return a


class Book(Base):
    """A book."""

    def read(self, page: int):
        return page

    def __init__(self):
        pass
`
	r := extractString(t, "library", src)

	top := findNode(r.Nodes, "top", model.KindFunction)
	if top == nil {
		t.Fatal("function top not extracted")
	}
	if top.Summary != "Top level function." {
		t.Errorf("summary = %q", top.Summary)
	}
	if top.Snippet == "" || top.Snippet[:7] != "def top" {
		t.Errorf("snippet = %q", top.Snippet)
	}
	wantParams := []string{"a", "b", "args", "kwargs"}
	if len(top.Parameters) != len(wantParams) {
		t.Fatalf("parameters = %v, want %v", top.Parameters, wantParams)
	}
	for i, p := range wantParams {
		if top.Parameters[i] != p {
			t.Errorf("parameters[%d] = %q, want %q", i, top.Parameters[i], p)
		}
	}

	book := findNode(r.Nodes, "Book", model.KindClass)
	if book == nil || book.Summary != "A book." {
		t.Fatalf("class Book = %+v", book)
	}
	read := findNode(r.Nodes, "Book.read", model.KindMethod)
	if read == nil {
		t.Fatal("method Book.read not extracted")
	}
	if read.Summary != "Method in library" {
		t.Errorf("default summary = %q", read.Summary)
	}
	if len(read.Parameters) != 1 || read.Parameters[0] != "page" {
		t.Errorf("method parameters = %v", read.Parameters)
	}
	if findNode(r.Nodes, "Book.__init__", model.KindMethod) != nil {
		t.Error("__init__ should be skipped")
	}

	contains := relsOfType(r.Relationships, model.RelContains)
	if len(contains) != 1 || contains[0].SourceName != "Book" || contains[0].TargetName != "Book.read" {
		t.Errorf("CONTAINS = %+v", contains)
	}
}

func TestExtractSource_SkipListedClasses(t *testing.T) {
	src := `
import logging

class JsonFormatter(logging.Formatter):
    def render(self, record):
        return helper(record)

class AuditFilter(logging.Filter):
    def check(self, record):
        return True

class Order:
    def total(self):
        return 1
`
	r := extractString(t, "svc", src)
	for _, n := range r.Nodes {
		if n.Name == "JsonFormatter" || n.Name == "AuditFilter" || n.Name == "JsonFormatter.render" || n.Name == "AuditFilter.check" {
			t.Errorf("skip-listed class member extracted: %s", n.Name)
		}
	}
	if findNode(r.Nodes, "Order", model.KindClass) == nil {
		t.Error("Order class missing")
	}
	for _, rel := range r.Relationships {
		if rel.SourceName == "JsonFormatter.render" {
			t.Errorf("calls from skipped class emitted: %+v", rel)
		}
	}
}

func TestExtractSource_CallOrderAndResolution(t *testing.T) {
	src := `
import logging
logger = logging.getLogger(__name__)

class Engine:
    def run(self):
        logger.info("start")
        self.prepare()
        data = load(compute())
        Engine.finish(data)
        print(len(data))

    def prepare(self):
        pass

    def finish(self, data):
        pass

def load(x):
    return x

def compute():
    return []
`
	r := extractString(t, "svc", src)

	var calls []model.Relationship
	for _, rel := range relsOfType(r.Relationships, model.RelCalls) {
		if rel.SourceName == "Engine.run" {
			calls = append(calls, rel)
		}
	}
	want := []struct {
		target string
		order  int
	}{
		{"Engine.prepare", 1},
		{"load", 2},
		{"compute", 3},
		{"Engine.finish", 4},
	}
	if len(calls) != len(want) {
		t.Fatalf("CALLS from Engine.run = %+v, want %d edges", calls, len(want))
	}
	for i, w := range want {
		if calls[i].TargetName != w.target || calls[i].CallOrder != w.order {
			t.Errorf("call %d = (%s, %d), want (%s, %d)", i, calls[i].TargetName, calls[i].CallOrder, w.target, w.order)
		}
		if calls[i].SourceKind != model.KindMethod {
			t.Errorf("source kind = %q, want method", calls[i].SourceKind)
		}
		if calls[i].LineNumber == 0 {
			t.Error("line number not recorded")
		}
	}
	if calls[0].LineNumber >= calls[1].LineNumber {
		t.Errorf("line numbers out of order: %d, %d", calls[0].LineNumber, calls[1].LineNumber)
	}
}

func TestExtractSource_Routes(t *testing.T) {
	src := `
from fastapi import FastAPI
from flask import Blueprint

app = FastAPI()
bp = Blueprint("x", __name__)

@app.post("/orders/")
def create_order(order):
    return order

@bp.route("/legacy", methods=["PUT", "POST"])
def legacy():
    return None

@bp.route("/ping")
def ping():
    return "pong"

@staticmethod
def not_a_route():
    return None
`
	r := extractString(t, "orders", src)

	create := findNode(r.Nodes, "create_order", model.KindFunction)
	if create == nil || create.APIMethod != "POST" || create.APIEndpoint != "/orders" {
		t.Fatalf("create_order = %+v", create)
	}
	if findNode(r.Nodes, "POST /orders", model.KindEndpoint) == nil {
		t.Error("endpoint node POST /orders missing")
	}
	if findNode(r.Nodes, "PUT /legacy", model.KindEndpoint) == nil {
		t.Error("endpoint node PUT /legacy missing")
	}
	if findNode(r.Nodes, "GET /ping", model.KindEndpoint) == nil {
		t.Error("endpoint node GET /ping missing (default method)")
	}

	exposes := relsOfType(r.Relationships, model.RelExposes)
	if len(exposes) != 3 {
		t.Fatalf("EXPOSES = %+v, want 3", exposes)
	}
	if exposes[0].SourceName != "POST /orders" || exposes[0].TargetName != "create_order" {
		t.Errorf("EXPOSES[0] = %+v", exposes[0])
	}
	if len(r.Endpoints) != 3 || r.Endpoints[0].Path != "/orders" || r.Endpoints[0].Function != "create_order" {
		t.Errorf("endpoints = %+v", r.Endpoints)
	}
}

func TestExtractSource_APICalls(t *testing.T) {
	src := `
import os
import requests

RISK_URL = os.getenv("RISK_URL", "http://risk-host:8002")
PRICING_SERVICE_URL = "http://pricing_service:8001"
API_PREFIX = "/v1"

def call_service(url, payload=None):
    return requests.post(url, json=payload)

def flow(order_id):
    call_service("{RISK_URL}/assess")
    call_service(f"{PRICING_SERVICE_URL}{API_PREFIX}/price/{order_id}?x=1")
    requests.get(RISK_URL + "/limits")
    requests.delete("http://risk-host:8002/orders/")
    call_service(make_url())
`
	r := extractString(t, "orchestrator", src)

	if r.BaseURLs["http://risk-host:8002"] != "risk" {
		t.Errorf("base URL table = %v", r.BaseURLs)
	}

	api := relsOfType(r.Relationships, model.RelAPICalls)
	want := []struct {
		key, path, method string
	}{
		{"risk", "/assess", ""},
		{"pricing", "/v1/price/{order_id}", ""},
		{"risk", "/limits", "GET"},
		{"risk", "/orders", "DELETE"},
	}
	if len(api) != len(want) {
		t.Fatalf("API_CALLS = %+v, want %d", api, len(want))
	}
	for i, w := range want {
		if api[i].TargetService != w.key || api[i].Endpoint != w.path || api[i].HTTPMethod != w.method {
			t.Errorf("api[%d] = (%s, %s, %s), want (%s, %s, %s)", i,
				api[i].TargetService, api[i].Endpoint, api[i].HTTPMethod, w.key, w.path, w.method)
		}
		if !api[i].Unresolved() {
			t.Errorf("api[%d] should be unresolved", i)
		}
		if api[i].SourceName != "flow" {
			t.Errorf("api[%d] source = %q", i, api[i].SourceName)
		}
	}

	// The API call and the local call of the same expression share an order.
	var callOrder int
	for _, rel := range relsOfType(r.Relationships, model.RelCalls) {
		if rel.SourceName == "flow" && rel.TargetName == "call_service" {
			callOrder = rel.CallOrder
			break
		}
	}
	if callOrder != api[0].CallOrder {
		t.Errorf("call order mismatch: CALLS %d, API_CALLS %d", callOrder, api[0].CallOrder)
	}
}

func TestExtractSource_SyntaxError(t *testing.T) {
	_, err := newTestExtractor().ExtractSource(context.Background(), "svc", "svc/src/bad.py", []byte("def broken(:\n    return\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("error %v should wrap ErrParseFailed", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Path != "svc/src/bad.py" || pe.Line != 1 {
		t.Errorf("ParseError = %+v", pe)
	}
}

func sampleFiles(t *testing.T) []walker.FileInfo {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(filename), "..", "..", "testdata", "sample_system")
	files, err := walker.Walk(walker.WalkerConfig{RootDir: root, SourceDir: "src", Include: []string{"**/*.py"}})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	return files
}

func TestExtract_SampleSystem(t *testing.T) {
	res, err := newTestExtractor().Extract(context.Background(), sampleFiles(t))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if res.Stats.Files != 4 || res.Stats.Failed != 1 || res.Stats.Parsed != 3 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if len(res.Failures) != 1 || res.Failures[0].Path != "pricing_service/src/broken.py" {
		t.Errorf("failures = %+v", res.Failures)
	}
	for _, n := range res.Nodes {
		if n.FilePath == "pricing_service/src/broken.py" {
			t.Errorf("node from unparseable file emitted: %+v", n)
		}
		if n.Name == "health_check" {
			t.Error("health_check should be skipped")
		}
	}

	if res.Registry.Len() != 3 {
		t.Errorf("registry has %d endpoints, want 3: %+v", res.Registry.Len(), res.Registry.Endpoints())
	}
	ep, ok := res.Registry.Lookup("/assess", "risk", "")
	if !ok || ep.Service != "risk_service" || ep.Function != "assess_risk" {
		t.Errorf("Lookup(/assess) = %+v, %v", ep, ok)
	}
	if got := res.Registry.CanonicalKey("http://risk_service:8002"); got != "risk" {
		t.Errorf("CanonicalKey = %q, want risk", got)
	}
}

func TestExtract_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestExtractor().Extract(ctx, sampleFiles(t)); err == nil {
		t.Error("expected error for canceled context")
	}
}
