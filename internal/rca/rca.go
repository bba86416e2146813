// Package rca answers root-cause analysis questions from the precomputed
// workflow catalog and the linked log graph: which workflows a failing
// function or service affects, the full path of a workflow, and what a
// single trace executed.
package rca

import (
	"context"
	"errors"
	"fmt"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

// Service runs RCA queries.
type Service struct {
	graph   *graph.Store
	catalog *workflow.Store
}

// NewService creates an RCA query service.
func NewService(g *graph.Store, catalog *workflow.Store) *Service {
	return &Service{graph: g, catalog: catalog}
}

// ByFunction returns the workflows containing function, with the step at
// which it runs.
func (s *Service) ByFunction(ctx context.Context, function string) ([]workflow.Hit, error) {
	return s.catalog.ContainingFunction(ctx, function)
}

// ByService returns the workflows that involve service.
func (s *Service) ByService(ctx context.Context, service string) ([]workflow.Hit, error) {
	return s.catalog.ByService(ctx, service)
}

// List returns every workflow in the catalog.
func (s *Service) List(ctx context.Context) ([]model.Workflow, error) {
	return s.catalog.List(ctx)
}

// Details is the answer to a workflow lookup by function name.
type Details struct {
	Function string `json:"function"`
	// EntryPoint is set when Function starts the returned workflow.
	EntryPoint bool                `json:"entry_point"`
	Workflows  []*workflow.Details `json:"workflows"`
}

// Workflows returns the full workflows for function: the one it starts if it
// is an entry point, otherwise every workflow whose route contains it.
func (s *Service) Workflows(ctx context.Context, function string) (*Details, error) {
	d := &Details{Function: function, Workflows: []*workflow.Details{}}
	wf, err := s.catalog.GetByEntryPoint(ctx, function)
	switch {
	case err == nil:
		d.EntryPoint = true
		d.Workflows = append(d.Workflows, wf)
		return d, nil
	case !errors.Is(err, graph.ErrNotFound):
		return nil, err
	}

	hits, err := s.catalog.ContainingFunction(ctx, function)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		wf, err := s.catalog.Get(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("loading workflow %d: %w", h.ID, err)
		}
		d.Workflows = append(d.Workflows, wf)
	}
	return d, nil
}
