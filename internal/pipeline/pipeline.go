// Package pipeline runs the ingestion phases in order: source extraction,
// cross-service resolution, sanitization and persistence of the code graph,
// log ingestion, code-log linking and workflow precomputation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/extract"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/link"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/logs"
	"github.com/ziadkadry99/tracegraph/internal/progress"
	"github.com/ziadkadry99/tracegraph/internal/resolve"
	"github.com/ziadkadry99/tracegraph/internal/sanitize"
	"github.com/ziadkadry99/tracegraph/internal/walker"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

// ReporterFunc creates the progress reporter of a phase.
type ReporterFunc func(phase string) progress.Reporter

// Pipeline orchestrates the ingestion phases over one graph store.
type Pipeline struct {
	cfg       *config.Config
	store     *graph.Store
	catalog   *workflow.Store
	logger    *slog.Logger
	reporters ReporterFunc
}

// New creates a Pipeline. A nil logger discards output; a nil reporters
// disables progress reporting.
func New(cfg *config.Config, store *graph.Store, catalog *workflow.Store, logger *slog.Logger, reporters ReporterFunc) *Pipeline {
	if reporters == nil {
		reporters = func(string) progress.Reporter { return progress.Nop{} }
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		catalog:   catalog,
		logger:    logging.OrDiscard(logger),
		reporters: reporters,
	}
}

// CodeReport are the counts of the code phase.
type CodeReport struct {
	Services []string              `json:"services"`
	Extract  extract.Stats         `json:"extract"`
	Resolve  resolve.Stats         `json:"resolve"`
	Sanitize sanitize.Stats        `json:"sanitize"`
	Store    graph.CodeStats       `json:"store"`
	Failures []*extract.ParseError `json:"-"`
	Unmapped []resolve.Unmapped    `json:"unmapped,omitempty"`
	Issues   []sanitize.Issue      `json:"-"`
}

// Code extracts the services under root, resolves and sanitizes their
// relationships and replaces their code graph.
func (p *Pipeline) Code(ctx context.Context, root string) (*CodeReport, error) {
	services, err := walker.Services(root)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	files, err := walker.Walk(walker.WalkerConfig{
		RootDir:   root,
		SourceDir: p.cfg.SourceDir,
		Include:   p.cfg.SourceInclude,
		Exclude:   p.cfg.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("walking sources: %w", err)
	}
	p.logger.Info("sources discovered", "services", len(services), "files", len(files))

	reporter := p.reporters("extract")
	reporter.Start(len(files))
	a := p.cfg.Analysis
	ex := extract.New(extract.Options{
		SkipFunctions:      a.SkipFunctions,
		SkipClasses:        a.SkipClasses,
		NoiseCalls:         a.NoiseCalls,
		APIClientCalls:     a.APIClientCalls,
		ServiceURLPatterns: a.ServiceURLPatterns,
		RouteDecorators:    a.RouteDecorators,
		Concurrency:        p.cfg.MaxConcurrency,
		Logger:             p.logger,
		Progress:           progress.Bind(reporter),
	})
	extracted, err := ex.Extract(ctx, files)
	reporter.Finish()
	if err != nil {
		return nil, err
	}

	resolved := resolve.Resolve(extracted.Relationships, extracted.Registry, p.logger)
	sanitized := sanitize.New(a.UtilityTargets, p.logger).Sanitize(resolved.Relationships, extracted.Nodes)

	failedFiles := make([]string, len(extracted.Failures))
	for i, f := range extracted.Failures {
		failedFiles[i] = f.Path
	}
	stored, err := p.store.RefreshCodeGraph(ctx, extracted.Nodes, sanitized.Relationships, failedFiles)
	if err != nil {
		return nil, err
	}

	report := &CodeReport{
		Services: services,
		Extract:  extracted.Stats,
		Resolve:  resolved.Stats,
		Sanitize: sanitized.Stats,
		Store:    *stored,
		Failures: extracted.Failures,
		Unmapped: resolved.Unmapped,
		Issues:   sanitized.Issues,
	}
	p.logger.Info("code graph stored",
		"nodes_created", stored.NodesCreated,
		"nodes_updated", stored.NodesUpdated,
		"relationships", stored.Relationships,
		"dropped", sanitized.Stats.Dropped()+stored.Dropped,
		"unmapped_api_calls", resolved.Stats.Unmapped)
	return report, nil
}

// Logs ingests the per-trace log files under root. In incremental mode
// traces that are already stored are skipped.
func (p *Pipeline) Logs(ctx context.Context, root string, incremental bool) (*logs.Report, error) {
	reporter := p.reporters("logs")
	defer reporter.Finish()
	var started sync.Once
	in := logs.NewIngestor(p.store, logs.Options{
		RootDir:       root,
		LogsDir:       p.cfg.LogsDir,
		ExcludedFiles: p.cfg.Logs.ExcludedFiles,
		TracePrefix:   p.cfg.Logs.TracePrefix,
		Concurrency:   p.cfg.MaxConcurrency,
		Incremental:   incremental,
		Logger:        p.logger,
		Progress: func(current, total int, item string) {
			started.Do(func() { reporter.Start(total) })
			reporter.Update(current, item)
		},
	})
	return in.Ingest(ctx)
}

// Link replaces the code-log links.
func (p *Pipeline) Link(ctx context.Context) (*link.Report, error) {
	return link.New(p.store, link.Options{
		ErrorPatterns:       p.cfg.Linker.ErrorPatterns,
		ServiceContextLimit: p.cfg.Linker.ServiceContextLimit,
		Logger:              p.logger,
	}).Link(ctx)
}

// Workflows recomputes the workflow catalog.
func (p *Pipeline) Workflows(ctx context.Context) (*workflow.Report, error) {
	w := p.cfg.Workflows
	report, _, err := workflow.NewEngine(p.store, p.catalog, workflow.Options{
		OrchestratorService: w.OrchestratorService,
		MaxDepth:            w.MaxDepth,
		SummarySteps:        w.SummarySteps,
		FieldsAccessedLimit: w.FieldsAccessedLimit,
		Logger:              p.logger,
	}).Precompute(ctx)
	return report, err
}

// RunOptions selects the phases of a full run.
type RunOptions struct {
	SkipLogs        bool
	SkipLink        bool
	SkipWorkflows   bool
	IncrementalLogs bool
}

// Report collects the counts of every phase that ran.
type Report struct {
	Code      *CodeReport      `json:"code"`
	Logs      *logs.Report     `json:"logs,omitempty"`
	Link      *link.Report     `json:"link,omitempty"`
	Workflows *workflow.Report `json:"workflows,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Run executes the phases in order. A phase failure stops the run; the
// writes of earlier phases are kept.
func (p *Pipeline) Run(ctx context.Context, root string, opts RunOptions) (*Report, error) {
	start := time.Now()
	report := &Report{}
	var err error

	if report.Code, err = p.Code(ctx, root); err != nil {
		return report, fmt.Errorf("code phase: %w", err)
	}
	if !opts.SkipLogs {
		if report.Logs, err = p.Logs(ctx, root, opts.IncrementalLogs); err != nil {
			return report, fmt.Errorf("log phase: %w", err)
		}
	}
	if !opts.SkipLink {
		if report.Link, err = p.Link(ctx); err != nil {
			return report, fmt.Errorf("link phase: %w", err)
		}
	}
	if !opts.SkipWorkflows {
		if report.Workflows, err = p.Workflows(ctx); err != nil {
			return report, fmt.Errorf("workflow phase: %w", err)
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}
