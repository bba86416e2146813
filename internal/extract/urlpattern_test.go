package extract

import "testing"

func TestServiceKeyFromConst(t *testing.T) {
	tests := map[string]string{
		"PRICING_SERVICE_URL": "pricing",
		"RISK_URL":            "risk",
		"TRADE_BASE_URL":      "trade",
		"ledger":              "ledger",
	}
	for in, want := range tests {
		if got := ServiceKeyFromConst(in); got != want {
			t.Errorf("ServiceKeyFromConst(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseServiceURL(t *testing.T) {
	isConst := ServiceConstMatcher{"*_SERVICE_URL", "*_URL"}.Match
	tests := []struct {
		pattern  string
		wantKey  string
		wantPath string
		wantOK   bool
	}{
		{"{RISK_URL}/assess", "risk", "/assess", true},
		{"{PRICING_SERVICE_URL}/price/?symbol=X", "pricing", "/price", true},
		{"{RISK_URL}", "risk", "/", true},
		{"http://risk:8002/assess", "http://risk:8002", "/assess", true},
		{"https://api.example.com//v1//orders/", "https://api.example.com", "/v1/orders", true},
		{"/local/path", "", "/local/path", true},
		{"{base}/assess", "", "", false},
		{"{RISK_URL/assess", "", "", false},
		{"assess", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			key, path, ok := ParseServiceURL(tt.pattern, isConst)
			if ok != tt.wantOK || key != tt.wantKey || path != tt.wantPath {
				t.Errorf("ParseServiceURL(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.pattern, key, path, ok, tt.wantKey, tt.wantPath, tt.wantOK)
			}
		})
	}
}

func TestSplitBaseURL(t *testing.T) {
	base, rest := SplitBaseURL("http://host:80/a/b?q=1")
	if base != "http://host:80" || rest != "/a/b?q=1" {
		t.Errorf("SplitBaseURL = (%q, %q)", base, rest)
	}
	base, rest = SplitBaseURL("http://host/")
	if base != "http://host" || rest != "/" {
		t.Errorf("SplitBaseURL trailing slash = (%q, %q)", base, rest)
	}
	if base, _ := SplitBaseURL("/no/scheme"); base != "" {
		t.Errorf("SplitBaseURL without scheme = %q", base)
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"http://risk_service:8002": "risk_service",
		"https://example.com/x":    "example.com",
		"localhost:9000":           "localhost",
	}
	for in, want := range tests {
		if got := HostOf(in); got != want {
			t.Errorf("HostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":                "/",
		"/":               "/",
		"assess":          "/assess",
		"/assess/":        "/assess",
		"//a///b":         "/a/b",
		"/price?symbol=X": "/price",
		"/doc#frag":       "/doc",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/orders", "/orders", true},
		{"/orders/{id}", "/orders/42", true},
		{"/orders/<int:id>", "/orders/{order_id}", true},
		{"/orders/{id}", "/orders/42/items", false},
		{"/orders/{id}/items", "/trades/1/items", false},
	}
	for _, tt := range tests {
		if got := MatchPath(tt.a, tt.b); got != tt.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestServiceMatchesKey(t *testing.T) {
	tests := []struct {
		service, key string
		want         bool
	}{
		{"risk_service", "risk", true},
		{"risk_service", "risk-service", true},
		{"risk-service", "risk_service", true},
		{"pricing_service", "risk", false},
		{"risk_service", "", false},
		{"orchestrator", "orchestrator", true},
	}
	for _, tt := range tests {
		if got := ServiceMatchesKey(tt.service, tt.key); got != tt.want {
			t.Errorf("ServiceMatchesKey(%q, %q) = %v, want %v", tt.service, tt.key, got, tt.want)
		}
	}
}
