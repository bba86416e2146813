package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// FileAnnotator reads summaries from a JSON array of {nodeId, summary}
// objects, such as an exported request file after editing. Entries for
// nodes that were not requested are ignored.
type FileAnnotator struct {
	Path string
}

type fileEntry struct {
	NodeID  string `json:"nodeId"`
	Summary string `json:"summary"`
	// NewSummary is accepted as an alternative to Summary.
	NewSummary string `json:"new_summary"`
}

func (a *FileAnnotator) Annotate(ctx context.Context, reqs []Request) ([]graph.Annotation, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("reading annotations: %w", err)
	}
	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", a.Path, err)
	}

	wanted := make(map[string]string, len(reqs))
	for _, r := range reqs {
		wanted[r.NodeID] = r.Summary
	}
	var out []graph.Annotation
	for _, e := range entries {
		current, ok := wanted[e.NodeID]
		if !ok {
			continue
		}
		summary := e.NewSummary
		if summary == "" {
			summary = e.Summary
		}
		if summary == "" || summary == current {
			continue
		}
		out = append(out, graph.Annotation{NodeID: e.NodeID, Summary: summary})
	}
	return out, nil
}
