package sanitize

import (
	"fmt"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Issue is a relationship endpoint that names no extracted node.
type Issue struct {
	Type    model.RelType `json:"type"`
	End     string        `json:"end"` // "source" or "target"
	Name    string        `json:"name"`
	Service string        `json:"service"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s %s/%s not found", i.Type, i.End, i.Service, i.Name)
}

type nameKey struct {
	name    string
	service string
}

// Validate reports relationships whose source or target does not correspond
// to a node of the same service. It is diagnostic only.
func Validate(rels []model.Relationship, nodes []model.CodeNode) []Issue {
	known := make(map[nameKey]bool, len(nodes))
	for _, n := range nodes {
		known[nameKey{n.Name, n.Service}] = true
	}

	var issues []Issue
	for _, rel := range rels {
		if !known[nameKey{rel.SourceName, rel.SourceService}] {
			issues = append(issues, Issue{Type: rel.Type, End: "source", Name: rel.SourceName, Service: rel.SourceService})
		}
		if !known[nameKey{rel.TargetName, rel.TargetService}] {
			issues = append(issues, Issue{Type: rel.Type, End: "target", Name: rel.TargetName, Service: rel.TargetService})
		}
	}
	return issues
}
