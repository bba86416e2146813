// Package extract builds the static call graph of a multi-service Python
// codebase: code nodes, CONTAINS/CALLS/EXPOSES edges, unresolved API_CALLS
// edges, and the endpoint registry used to resolve them.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/progress"
	"github.com/ziadkadry99/tracegraph/internal/walker"
)

// Options configures an Extractor.
type Options struct {
	SkipFunctions      []string
	SkipClasses        []string
	NoiseCalls         []string
	APIClientCalls     []string
	ServiceURLPatterns []string
	RouteDecorators    []string
	Concurrency        int
	Logger             *slog.Logger
	Progress           progress.Func
}

// Extractor parses source files into graph fragments.
type Extractor struct {
	opts          Options
	skipFunctions map[string]bool
	skipClasses   map[string]bool
	routeOwners   map[string]bool
	serviceConsts ServiceConstMatcher
	logger        *slog.Logger
	now           func() time.Time
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Extractor{
		opts:          opts,
		skipFunctions: toSet(opts.SkipFunctions),
		skipClasses:   toSet(opts.SkipClasses),
		routeOwners:   toSet(opts.RouteDecorators),
		serviceConsts: ServiceConstMatcher(opts.ServiceURLPatterns),
		logger:        logging.OrDiscard(opts.Logger),
		now:           time.Now,
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// FileResult is everything extracted from one source file. It is produced
// only for files that parsed completely.
type FileResult struct {
	Path          string
	Service       string
	Nodes         []model.CodeNode
	Relationships []model.Relationship
	Endpoints     []Endpoint
	// BaseURLs maps literal base URLs of service URL constants to service keys.
	BaseURLs map[string]string
}

// Stats are the extraction phase counts.
type Stats struct {
	Files          int `json:"files"`
	Parsed         int `json:"parsed"`
	Failed         int `json:"failed"`
	Nodes          int `json:"nodes"`
	DuplicateNodes int `json:"duplicate_nodes"`
	Relationships  int `json:"relationships"`
	Endpoints      int `json:"endpoints"`
	APICalls       int `json:"api_calls"`
}

// Result is the merged output of an extraction run.
type Result struct {
	Nodes         []model.CodeNode
	Relationships []model.Relationship
	Registry      *Registry
	Failures      []*ParseError
	Stats         Stats
}

// ExtractSource extracts one file's content. service is the owning service
// and path is recorded as the nodes' file path.
func (e *Extractor) ExtractSource(ctx context.Context, service, path string, src []byte) (*FileResult, error) {
	tree, err := parsePython(ctx, path, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &fileVisitor{
		ex:      e,
		service: service,
		path:    path,
		src:     src,
		lines:   strings.Split(string(src), "\n"),
		consts:  make(map[string]string),
		classes: make(map[string]bool),
		order:   make(map[string]int),
		result: &FileResult{
			Path:     path,
			Service:  service,
			BaseURLs: make(map[string]string),
		},
	}
	v.prepass(root)
	v.matcher = NewMatcher(e.opts.NoiseCalls, e.opts.APIClientCalls, v.classes)

	if err := v.visit(ctx, root); err != nil {
		return nil, err
	}
	return v.result, nil
}

// ExtractFile reads and extracts a discovered source file.
func (e *Extractor) ExtractFile(ctx context.Context, f walker.FileInfo) (*FileResult, error) {
	src, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &ParseError{Path: f.RelPath, Err: fmt.Errorf("%w: %v", ErrParseFailed, err)}
	}
	return e.ExtractSource(ctx, f.Service, f.RelPath, src)
}

// Extract parses files with a bounded worker pool, then merges the per-file
// results in input order into a single Result and endpoint registry.
// Unparseable files are skipped and reported in Result.Failures; only
// context cancellation aborts the run.
func (e *Extractor) Extract(ctx context.Context, files []walker.FileInfo) (*Result, error) {
	results := make([]*FileResult, len(files))
	errs := make([]error, len(files))

	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = e.ExtractFile(gctx, f)
			if errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded) {
				return errs[i]
			}
			if e.opts.Progress != nil {
				e.opts.Progress(int(atomic.AddInt64(&done, 1)), len(files), f.RelPath)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting sources: %w", err)
	}

	return e.merge(files, results, errs), nil
}

// merge combines per-file results. Within a run the first node with a given
// (name, kind, service) wins; later duplicates are counted and dropped.
func (e *Extractor) merge(files []walker.FileInfo, results []*FileResult, errs []error) *Result {
	out := &Result{Registry: NewRegistry()}
	out.Stats.Files = len(files)
	seen := make(map[model.NodeKey]bool)

	for i, r := range results {
		if errs[i] != nil {
			var pe *ParseError
			if !errors.As(errs[i], &pe) {
				pe = &ParseError{Path: files[i].RelPath, Err: errs[i]}
			}
			out.Failures = append(out.Failures, pe)
			out.Stats.Failed++
			e.logger.Warn("skipping unparseable file", "file", pe.Path, "line", pe.Line, "error", pe.Err)
			continue
		}
		out.Stats.Parsed++

		for _, n := range r.Nodes {
			if seen[n.Key()] {
				out.Stats.DuplicateNodes++
				e.logger.Debug("duplicate node", "name", n.Name, "kind", n.Kind, "service", n.Service, "file", r.Path)
				continue
			}
			seen[n.Key()] = true
			out.Nodes = append(out.Nodes, n)
		}
		for _, rel := range r.Relationships {
			if rel.Type == model.RelAPICalls {
				out.Stats.APICalls++
			}
			out.Relationships = append(out.Relationships, rel)
		}
		for _, ep := range r.Endpoints {
			out.Registry.RegisterEndpoint(ep)
		}
		for _, base := range slices.Sorted(maps.Keys(r.BaseURLs)) {
			out.Registry.RegisterBaseURL(base, r.BaseURLs[base])
		}
	}

	out.Stats.Nodes = len(out.Nodes)
	out.Stats.Relationships = len(out.Relationships)
	out.Stats.Endpoints = out.Registry.Len()
	e.logger.Info("extraction complete",
		"files", out.Stats.Files,
		"failed", out.Stats.Failed,
		"nodes", out.Stats.Nodes,
		"relationships", out.Stats.Relationships,
		"endpoints", out.Stats.Endpoints)
	return out
}
