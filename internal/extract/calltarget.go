package extract

import "strings"

// TargetKind tags a CallTarget variant.
type TargetKind int

const (
	// Direct is a bare-name call: foo(...).
	Direct TargetKind = iota
	// MemberAccess is an attribute call: owner.foo(...).
	MemberAccess
)

// CallTarget is the syntactic callee of a call expression.
type CallTarget struct {
	Kind  TargetKind
	Owner string // Source text of the owner expression for MemberAccess.
	Name  string // Called name: the identifier or the final attribute segment.
}

// Qualified returns "owner.name" for member access and the bare name otherwise.
func (t CallTarget) Qualified() string {
	if t.Kind == MemberAccess && t.Owner != "" {
		return t.Owner + "." + t.Name
	}
	return t.Name
}

// Matcher resolves call targets to graph names within one file.
type Matcher struct {
	noise   map[string]bool
	clients []string
	classes map[string]bool // classes defined in the file
}

// NewMatcher builds a matcher from the noise callee list, the HTTP client
// patterns and the classes defined in the current file.
func NewMatcher(noise, clients []string, classes map[string]bool) *Matcher {
	m := &Matcher{
		noise:   make(map[string]bool, len(noise)),
		clients: clients,
		classes: classes,
	}
	for _, n := range noise {
		m.noise[n] = true
	}
	return m
}

// Resolve maps a call target to the name a CALLS edge should point at.
// self.x and cls.x inside class C resolve to "C.x", K.x for a class K
// defined in the file resolves to "K.x", anything else to the bare name.
// Noise callees resolve to ok=false.
func (m *Matcher) Resolve(t CallTarget, enclosingClass string) (name string, ok bool) {
	if t.Name == "" || m.noise[t.Name] {
		return "", false
	}
	if t.Kind == MemberAccess {
		switch {
		case (t.Owner == "self" || t.Owner == "cls") && enclosingClass != "":
			return enclosingClass + "." + t.Name, true
		case m.classes[t.Owner]:
			return t.Owner + "." + t.Name, true
		}
	}
	return t.Name, true
}

// IsAPIClient reports whether the call target is a configured HTTP client
// call. Plain patterns match the called name; dotted patterns match the
// qualified "owner.name", or its last two segments for deeper owners
// such as self.client.get.
func (m *Matcher) IsAPIClient(t CallTarget) bool {
	q := t.Qualified()
	for _, p := range m.clients {
		if !strings.Contains(p, ".") {
			if t.Name == p {
				return true
			}
			continue
		}
		if q == p || strings.HasSuffix(q, "."+p) {
			return true
		}
	}
	return false
}
