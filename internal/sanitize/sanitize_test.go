package sanitize

import (
	"testing"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

func testNodes() []model.CodeNode {
	return []model.CodeNode{
		{Name: "place_order", Kind: model.KindFunction, Service: "orchestrator"},
		{Name: "validate_order", Kind: model.KindFunction, Service: "orchestrator"},
		{Name: "OrderBook", Kind: model.KindClass, Service: "orchestrator"},
		{Name: "OrderBook.record", Kind: model.KindMethod, Service: "orchestrator"},
		{Name: "assess_risk", Kind: model.KindFunction, Service: "risk_service"},
		{Name: "compute_score", Kind: model.KindFunction, Service: "risk_service"},
		{Name: "compute_score", Kind: model.KindFunction, Service: "pricing_service"},
	}
}

func calls(src, target, svc string) model.Relationship {
	return model.Relationship{
		Type:          model.RelCalls,
		SourceName:    src,
		SourceKind:    model.KindFunction,
		SourceService: svc,
		TargetName:    target,
		TargetKind:    model.KindFunction,
		TargetService: svc,
	}
}

func TestSanitize_Filters(t *testing.T) {
	rels := []model.Relationship{
		calls("place_order", "validate_order", "orchestrator"),
		calls("place_order", "validate_order", "orchestrator"),
		calls("place_order", "print", "orchestrator"),
		calls("place_order", "post", "orchestrator"),
		calls("place_order", "compute_score", "orchestrator"),
		calls("OrderBook.submit", "OrderBook.record", "orchestrator"),
		{Type: model.RelAPICalls, SourceName: "place_order", SourceService: "orchestrator", TargetService: "risk", Endpoint: "/nowhere"},
		{Type: model.RelAPICalls, SourceName: "place_order", SourceService: "orchestrator",
			TargetName: "assess_risk", TargetService: "risk_service"},
		{Type: model.RelContains, SourceName: "OrderBook", SourceService: "orchestrator",
			TargetName: "OrderBook.record", TargetService: "orchestrator"},
	}
	res := New([]string{"print", "len"}, nil).Sanitize(rels, testNodes())

	want := Stats{
		Input:          9,
		DroppedNull:    1,
		DroppedUtility: 1,
		DroppedUnknown: 1,
		Retargeted:     1,
		Deduplicated:   1,
		Output:         5,
	}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.Stats.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", res.Stats.Dropped())
	}

	retargeted := res.Relationships[1]
	if retargeted.TargetName != "compute_score" || retargeted.TargetService != "pricing_service" {
		t.Errorf("cross-service call = %+v, want first sorted defining service", retargeted)
	}
	method := res.Relationships[2]
	if method.TargetKind != model.KindMethod {
		t.Errorf("method target kind = %q", method.TargetKind)
	}

	// Input untouched.
	if rels[4].TargetService != "orchestrator" {
		t.Error("Sanitize mutated its input")
	}
}

func TestSanitize_Invariants(t *testing.T) {
	var rels []model.Relationship
	for i := 0; i < 3; i++ {
		rels = append(rels,
			calls("place_order", "validate_order", "orchestrator"),
			calls("place_order", "missing_fn", "orchestrator"),
			calls("assess_risk", "compute_score", "risk_service"))
	}
	nodes := testNodes()
	res := New(nil, nil).Sanitize(rels, nodes)

	names := make(map[string]bool)
	for _, n := range nodes {
		if n.Kind.IsCallable() {
			names[n.Name] = true
		}
	}
	seen := make(map[model.DedupKey]bool)
	for _, rel := range res.Relationships {
		if seen[rel.Key()] {
			t.Errorf("duplicate relationship survived: %+v", rel.Key())
		}
		seen[rel.Key()] = true
		if rel.Type == model.RelCalls && !names[rel.TargetName] {
			t.Errorf("CALLS to unknown function survived: %s", rel.TargetName)
		}
	}
	if len(res.Relationships) != 2 {
		t.Errorf("got %d relationships, want 2", len(res.Relationships))
	}
}

func TestSanitize_PrefersCallerService(t *testing.T) {
	res := New(nil, nil).Sanitize([]model.Relationship{calls("assess_risk", "compute_score", "risk_service")}, testNodes())
	if len(res.Relationships) != 1 || res.Relationships[0].TargetService != "risk_service" {
		t.Errorf("relationships = %+v", res.Relationships)
	}
	if res.Stats.Retargeted != 0 {
		t.Errorf("retargeted = %d", res.Stats.Retargeted)
	}
}

func TestValidate(t *testing.T) {
	rels := []model.Relationship{
		calls("place_order", "validate_order", "orchestrator"),
		calls("ghost", "validate_order", "orchestrator"),
		{Type: model.RelAPICalls, SourceName: "place_order", SourceService: "orchestrator",
			TargetName: "assess_risk", TargetService: "orchestrator"},
	}
	issues := Validate(rels, testNodes())
	if len(issues) != 2 {
		t.Fatalf("issues = %v, want 2", issues)
	}
	if issues[0].End != "source" || issues[0].Name != "ghost" {
		t.Errorf("issues[0] = %+v", issues[0])
	}
	if issues[1].End != "target" || issues[1].Name != "assess_risk" {
		t.Errorf("issues[1] = %+v", issues[1])
	}
	if got := issues[1].String(); got != "API_CALLS target orchestrator/assess_risk not found" {
		t.Errorf("String() = %q", got)
	}
}
