// Package link associates code nodes with the log events they produced.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Options configures a Linker.
type Options struct {
	ErrorPatterns []config.ErrorPattern
	// ServiceContextLimit caps service_context edges per function to the
	// first N events of its service.
	ServiceContextLimit int
	Logger              *slog.Logger
}

// Linker runs the three linking strategies over the stored graph.
type Linker struct {
	store  *graph.Store
	opts   Options
	logger *slog.Logger
}

// New creates a Linker.
func New(store *graph.Store, opts Options) *Linker {
	return &Linker{store: store, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Report are the linker phase counts.
type Report struct {
	Deleted        int64 `json:"deleted"`
	ExecutedIn     int   `json:"executed_in"`
	LoggedError    int   `json:"logged_error"`
	ServiceContext int   `json:"service_context"`
	// UnmatchedPatterns lists error patterns whose function exists in no service.
	UnmatchedPatterns []string `json:"unmatched_patterns,omitempty"`
}

// Total returns the number of edges created.
func (r *Report) Total() int {
	return r.ExecutedIn + r.LoggedError + r.ServiceContext
}

// Link replaces all linker edges with freshly computed ones.
func (l *Linker) Link(ctx context.Context) (*Report, error) {
	funcs, err := l.store.Nodes(ctx, graph.NodeFilter{Kind: model.KindFunction})
	if err != nil {
		return nil, fmt.Errorf("loading functions: %w", err)
	}

	byService := make(map[string][]model.CodeNode)
	var services []string
	for _, fn := range funcs {
		if _, ok := byService[fn.Service]; !ok {
			services = append(services, fn.Service)
		}
		byService[fn.Service] = append(byService[fn.Service], fn)
	}

	report := &Report{}
	var rels []model.Relationship
	matchedPattern := make(map[int]bool)

	for _, svc := range services {
		events, err := l.store.LogEvents(ctx, graph.LogFilter{Service: svc})
		if err != nil {
			return nil, fmt.Errorf("loading log events of %s: %w", svc, err)
		}
		if len(events) == 0 {
			continue
		}
		fns := byService[svc]

		for _, fn := range fns {
			for _, ev := range events {
				if strings.Contains(ev.Message, fn.Name) {
					rels = append(rels, edge(model.RelExecutedIn, fn, ev,
						fmt.Sprintf("Function %s executed and logged", fn.Name)))
					report.ExecutedIn++
				}
			}
		}

		for i, p := range l.opts.ErrorPatterns {
			fn, ok := findFunction(fns, p.Function)
			if !ok {
				continue
			}
			matchedPattern[i] = true
			for _, ev := range events {
				if ev.IsError() && strings.Contains(ev.Message, p.Pattern) {
					rels = append(rels, edge(model.RelLoggedError, fn, ev,
						fmt.Sprintf("Function %s logged error: %s", fn.Name, p.Pattern)))
					report.LoggedError++
				}
			}
		}

		limit := l.opts.ServiceContextLimit
		if limit < 0 || limit > len(events) {
			limit = len(events)
		}
		for _, fn := range fns {
			for _, ev := range events[:limit] {
				rels = append(rels, edge(model.RelServiceContext, fn, ev,
					fmt.Sprintf("Function %s in service context", fn.Name)))
				report.ServiceContext++
			}
		}
	}

	for i, p := range l.opts.ErrorPatterns {
		if !matchedPattern[i] {
			report.UnmatchedPatterns = append(report.UnmatchedPatterns, p.Pattern)
			l.logger.Debug("error pattern function not found", "pattern", p.Pattern, "function", p.Function)
		}
	}

	if report.Deleted, err = l.store.ReplaceRelationships(ctx, "links", model.LinkRelTypes, rels); err != nil {
		return nil, err
	}

	l.logger.Info("code and logs linked",
		"executed_in", report.ExecutedIn,
		"logged_error", report.LoggedError,
		"service_context", report.ServiceContext)
	return report, nil
}

func findFunction(fns []model.CodeNode, name string) (model.CodeNode, bool) {
	for _, fn := range fns {
		if fn.Name == name {
			return fn, true
		}
	}
	return model.CodeNode{}, false
}

func edge(typ model.RelType, fn model.CodeNode, ev model.LogEvent, desc string) model.Relationship {
	return model.Relationship{
		Type:          typ,
		SourceID:      fn.ID,
		TargetID:      ev.ID,
		SourceName:    fn.Name,
		SourceKind:    fn.Kind,
		SourceService: fn.Service,
		TargetKind:    model.KindLog,
		TargetService: ev.Service,
		Description:   desc,
	}
}
