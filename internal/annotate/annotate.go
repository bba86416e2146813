// Package annotate replaces the placeholder summaries of code nodes with
// summaries produced by an external collaborator: a language model or a
// hand-edited JSON file.
package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Request is the node information handed to an annotator.
type Request struct {
	NodeID  string         `json:"nodeId"`
	Name    string         `json:"name"`
	Kind    model.NodeKind `json:"kind"`
	Service string         `json:"service"`
	Snippet string         `json:"snippet"`
	// Summary is the node's current summary; annotators fill it in exported
	// files.
	Summary string `json:"summary,omitempty"`
}

// Annotator produces summaries for nodes. Missing or empty summaries are
// allowed and leave the node unchanged.
type Annotator interface {
	Annotate(ctx context.Context, reqs []Request) ([]graph.Annotation, error)
}

// Requests returns annotation requests for the function, method and class
// nodes of the graph, ordered by service and name.
func Requests(ctx context.Context, store *graph.Store, service string) ([]Request, error) {
	nodes, err := store.Nodes(ctx, graph.NodeFilter{Service: service})
	if err != nil {
		return nil, err
	}
	var reqs []Request
	for _, n := range nodes {
		if n.Kind == model.KindEndpoint {
			continue
		}
		reqs = append(reqs, Request{
			NodeID:  n.ID,
			Name:    n.Name,
			Kind:    n.Kind,
			Service: n.Service,
			Snippet: n.Snippet,
			Summary: n.Summary,
		})
	}
	return reqs, nil
}

// Export writes the annotation requests as an indented JSON array for
// annotation outside the tool.
func Export(w io.Writer, reqs []Request) error {
	if reqs == nil {
		reqs = []Request{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reqs)
}

// ExportFile writes the annotation requests to path.
func ExportFile(path string, reqs []Request) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Export(f, reqs); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Report are the annotation counts.
type Report struct {
	Candidates int `json:"candidates"`
	Returned   int `json:"returned"`
	Updated    int `json:"updated"`
}

// Run asks annotator for summaries of every candidate node of service (all
// services when empty) and stores the non-empty ones.
func Run(ctx context.Context, store *graph.Store, annotator Annotator, service string, logger *slog.Logger) (*Report, error) {
	logger = logging.OrDiscard(logger)
	reqs, err := Requests(ctx, store, service)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	report := &Report{Candidates: len(reqs)}
	if len(reqs) == 0 {
		return report, nil
	}

	anns, err := annotator.Annotate(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("annotating: %w", err)
	}
	report.Returned = len(anns)

	report.Updated, err = store.ApplyAnnotations(ctx, anns)
	if err != nil {
		return nil, err
	}
	logger.Info("annotations applied",
		"candidates", report.Candidates,
		"returned", report.Returned,
		"updated", report.Updated)
	return report, nil
}
