package extract

import "testing"

func TestMatcher_Resolve(t *testing.T) {
	m := NewMatcher([]string{"info", "len"}, nil, map[string]bool{"Ledger": true})
	tests := []struct {
		target    CallTarget
		class     string
		wantName  string
		wantFound bool
	}{
		{CallTarget{Kind: Direct, Name: "compute"}, "", "compute", true},
		{CallTarget{Kind: Direct, Name: "len"}, "", "", false},
		{CallTarget{Kind: MemberAccess, Owner: "logger", Name: "info"}, "", "", false},
		{CallTarget{Kind: MemberAccess, Owner: "self", Name: "record"}, "Book", "Book.record", true},
		{CallTarget{Kind: MemberAccess, Owner: "cls", Name: "build"}, "Book", "Book.build", true},
		{CallTarget{Kind: MemberAccess, Owner: "self", Name: "record"}, "", "record", true},
		{CallTarget{Kind: MemberAccess, Owner: "Ledger", Name: "post"}, "Book", "Ledger.post", true},
		{CallTarget{Kind: MemberAccess, Owner: "client", Name: "fetch"}, "Book", "fetch", true},
		{CallTarget{Kind: Direct}, "", "", false},
	}
	for _, tt := range tests {
		name, ok := m.Resolve(tt.target, tt.class)
		if name != tt.wantName || ok != tt.wantFound {
			t.Errorf("Resolve(%+v, %q) = (%q, %v), want (%q, %v)",
				tt.target, tt.class, name, ok, tt.wantName, tt.wantFound)
		}
	}
}

func TestMatcher_IsAPIClient(t *testing.T) {
	m := NewMatcher(nil, []string{"call_service", "requests.post", "client.get"}, nil)
	tests := []struct {
		target CallTarget
		want   bool
	}{
		{CallTarget{Kind: Direct, Name: "call_service"}, true},
		{CallTarget{Kind: MemberAccess, Owner: "self", Name: "call_service"}, true},
		{CallTarget{Kind: MemberAccess, Owner: "requests", Name: "post"}, true},
		{CallTarget{Kind: MemberAccess, Owner: "requests", Name: "get"}, false},
		{CallTarget{Kind: MemberAccess, Owner: "self.client", Name: "get"}, true},
		{CallTarget{Kind: Direct, Name: "post"}, false},
	}
	for _, tt := range tests {
		if got := m.IsAPIClient(tt.target); got != tt.want {
			t.Errorf("IsAPIClient(%+v) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestCallTarget_Qualified(t *testing.T) {
	if got := (CallTarget{Kind: MemberAccess, Owner: "a.b", Name: "c"}).Qualified(); got != "a.b.c" {
		t.Errorf("Qualified() = %q", got)
	}
	if got := (CallTarget{Kind: Direct, Name: "c"}).Qualified(); got != "c" {
		t.Errorf("Qualified() = %q", got)
	}
}
