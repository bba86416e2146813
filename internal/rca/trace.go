package rca

import (
	"context"
	"fmt"
	"sort"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// FunctionActivity counts the log events a function produced in a trace.
type FunctionActivity struct {
	Name    string         `json:"name"`
	Service string         `json:"service"`
	Kind    model.NodeKind `json:"kind"`
	Logs    int            `json:"logs"`
}

// LogLink is a code-to-log edge of a trace, joined with its log event.
type LogLink struct {
	Function string         `json:"function"`
	Service  string         `json:"service"`
	Event    model.LogEvent `json:"event"`
}

// Transition counts next_log hops from one service to another.
type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// TraceReport describes what a trace executed.
type TraceReport struct {
	TraceID      string             `json:"trace_id"`
	Events       []model.LogEvent   `json:"events"`
	Functions    []FunctionActivity `json:"functions"`
	Executed     []LogLink          `json:"executed"`
	Errors       []LogLink          `json:"errors"`
	NextLogLinks int                `json:"next_log_links"`
	Transitions  []Transition       `json:"transitions"`
}

// Coverage is the share of the trace's events with an executed_in link, in
// percent.
func (r *TraceReport) Coverage() float64 {
	if len(r.Events) == 0 {
		return 0
	}
	return float64(len(r.Executed)) / float64(len(r.Events)) * 100
}

// Trace builds the report of a stored trace. It returns graph.ErrNotFound
// when the trace has no events.
func (s *Service) Trace(ctx context.Context, traceID string) (*TraceReport, error) {
	events, err := s.graph.LogEvents(ctx, graph.LogFilter{TraceID: traceID})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("trace %s: %w", traceID, graph.ErrNotFound)
	}
	byID := make(map[string]model.LogEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	rels, err := s.graph.TraceRelationships(ctx, traceID,
		[]model.RelType{model.RelExecutedIn, model.RelLoggedError, model.RelNextLog})
	if err != nil {
		return nil, err
	}

	report := &TraceReport{
		TraceID:     traceID,
		Events:      events,
		Functions:   []FunctionActivity{},
		Executed:    []LogLink{},
		Errors:      []LogLink{},
		Transitions: []Transition{},
	}
	activity := make(map[model.NodeKey]*FunctionActivity)
	transitions := make(map[[2]string]int)
	for _, r := range rels {
		target := byID[r.TargetID]
		switch r.Type {
		case model.RelExecutedIn:
			report.Executed = append(report.Executed, LogLink{Function: r.SourceName, Service: r.SourceService, Event: target})
			key := model.NodeKey{Name: r.SourceName, Kind: r.SourceKind, Service: r.SourceService}
			a, ok := activity[key]
			if !ok {
				a = &FunctionActivity{Name: r.SourceName, Service: r.SourceService, Kind: r.SourceKind}
				activity[key] = a
			}
			a.Logs++
		case model.RelLoggedError:
			report.Errors = append(report.Errors, LogLink{Function: r.SourceName, Service: r.SourceService, Event: target})
		case model.RelNextLog:
			report.NextLogLinks++
			from := byID[r.SourceID]
			if from.Service != target.Service {
				transitions[[2]string{from.Service, target.Service}]++
			}
		}
	}

	for _, a := range activity {
		report.Functions = append(report.Functions, *a)
	}
	sort.Slice(report.Functions, func(i, j int) bool {
		a, b := report.Functions[i], report.Functions[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		return a.Name < b.Name
	})
	for k, n := range transitions {
		report.Transitions = append(report.Transitions, Transition{From: k[0], To: k[1], Count: n})
	}
	sort.Slice(report.Transitions, func(i, j int) bool {
		a, b := report.Transitions[i], report.Transitions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return report, nil
}

// Traces lists the stored traces, most recent first.
func (s *Service) Traces(ctx context.Context) ([]graph.TraceSummary, error) {
	return s.graph.Traces(ctx)
}
