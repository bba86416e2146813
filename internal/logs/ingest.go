package logs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/progress"
	"github.com/ziadkadry99/tracegraph/internal/walker"
)

// Options configures an Ingestor.
type Options struct {
	RootDir       string
	LogsDir       string
	ExcludedFiles []string
	TracePrefix   string
	Concurrency   int
	// Incremental skips traces that are already stored instead of replacing them.
	Incremental bool
	Logger      *slog.Logger
	Progress    progress.Func
}

// Ingestor reads trace log files and stores their events and chains.
type Ingestor struct {
	store  *graph.Store
	opts   Options
	logger *slog.Logger
}

// NewIngestor creates an Ingestor writing to store.
func NewIngestor(store *graph.Store, opts Options) *Ingestor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Ingestor{store: store, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Report are the log phase counts.
type Report struct {
	Files          int `json:"files"`
	SkippedFiles   int `json:"skipped_files"`
	Lines          int `json:"lines"`
	Events         int `json:"events"`
	Malformed      int `json:"malformed_lines"`
	SkippedEvents  int `json:"skipped_events"`
	Traces         int `json:"traces"`
	TracesReplaced int `json:"traces_replaced"`
	ChainEdges     int `json:"next_log_created"`
}

// Batch is the parsed, chained content of one ingestion run.
type Batch struct {
	Events []model.LogEvent
	Chain  []model.Relationship
	Report Report
}

// TraceIDFromFile derives a trace id from a log file name: the stem
// without the extension and without prefix.
func TraceIDFromFile(name, prefix string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if prefix != "" {
		stem = strings.TrimPrefix(stem, prefix)
	}
	return stem
}

// Collect discovers and parses the trace log files and builds the chains.
// Traces in skip are left out. Files are parsed concurrently; events are
// sequenced in file order so timestamp ties keep arrival order.
func (in *Ingestor) Collect(ctx context.Context, skip map[string]bool) (*Batch, error) {
	files, err := walker.LogFiles(walker.LogConfig{
		RootDir:       in.opts.RootDir,
		LogsDir:       in.opts.LogsDir,
		ExcludedFiles: in.opts.ExcludedFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering log files: %w", err)
	}

	batch := &Batch{}
	var todo []walker.FileInfo
	for _, f := range files {
		if skip[TraceIDFromFile(f.Path, in.opts.TracePrefix)] {
			batch.Report.SkippedFiles++
			in.logger.Debug("skipping stored trace", "file", f.RelPath)
			continue
		}
		todo = append(todo, f)
	}
	batch.Report.Files = len(todo)

	parsed := make([][]model.LogEvent, len(todo))
	stats := make([]FileStats, len(todo))
	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Concurrency)
	for i, f := range todo {
		g.Go(func() error {
			trace := TraceIDFromFile(f.Path, in.opts.TracePrefix)
			evs, st, err := ParseFile(gctx, f.Path, f.RelPath, f.Service, trace, in.logger)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				in.logger.Warn("skipping unreadable log file", "file", f.RelPath, "error", err)
			}
			parsed[i], stats[i] = evs, st
			if in.opts.Progress != nil {
				in.opts.Progress(int(atomic.AddInt64(&done, 1)), len(todo), f.RelPath)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parsing log files: %w", err)
	}

	var events []model.LogEvent
	seq := 0
	for i := range todo {
		batch.Report.Lines += stats[i].Lines
		batch.Report.Malformed += stats[i].Malformed
		for _, ev := range parsed[i] {
			if skip[ev.TraceID] {
				batch.Report.SkippedEvents++
				continue
			}
			ev.Seq = seq
			seq++
			events = append(events, ev)
		}
	}

	batch.Events, batch.Chain = BuildChains(events)
	traces := make(map[string]bool)
	for _, ev := range batch.Events {
		traces[ev.TraceID] = true
	}
	batch.Report.Events = len(batch.Events)
	batch.Report.Traces = len(traces)
	batch.Report.ChainEdges = len(batch.Chain)
	return batch, nil
}

// Ingest collects the log files and stores the batch in one transaction.
// In incremental mode traces that are already stored are skipped;
// otherwise each ingested trace replaces its stored version.
func (in *Ingestor) Ingest(ctx context.Context) (*Report, error) {
	var skip map[string]bool
	if in.opts.Incremental {
		var err error
		if skip, err = in.store.TraceIDs(ctx); err != nil {
			return nil, err
		}
	}

	batch, err := in.Collect(ctx, skip)
	if err != nil {
		return nil, err
	}
	stored, err := in.store.ReplaceTraces(ctx, batch.Events, batch.Chain)
	if err != nil {
		return nil, err
	}
	batch.Report.TracesReplaced = stored.TracesReplaced

	in.logger.Info("logs ingested",
		"files", batch.Report.Files,
		"events", batch.Report.Events,
		"malformed", batch.Report.Malformed,
		"traces", batch.Report.Traces,
		"next_log", batch.Report.ChainEdges)
	return &batch.Report, nil
}
