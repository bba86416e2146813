// Package sanitize filters the extracted relationship set before it is
// persisted: noise and unresolved targets are dropped, CALLS edges must point
// at a known function, and duplicates collapse to their first occurrence.
package sanitize

import (
	"log/slog"
	"sort"

	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Stats are the sanitizer phase counts.
type Stats struct {
	Input          int `json:"input"`
	DroppedNull    int `json:"dropped_null_target"`
	DroppedUtility int `json:"dropped_utility"`
	DroppedUnknown int `json:"dropped_unknown_callee"`
	Retargeted     int `json:"retargeted"`
	Deduplicated   int `json:"deduplicated"`
	Output         int `json:"output"`
}

// Dropped returns the number of relationships removed by any filter.
func (s Stats) Dropped() int {
	return s.DroppedNull + s.DroppedUtility + s.DroppedUnknown + s.Deduplicated
}

// Result is the output of Sanitize.
type Result struct {
	Relationships []model.Relationship
	Issues        []Issue
	Stats         Stats
}

// Sanitizer applies the relationship filters.
type Sanitizer struct {
	utility map[string]bool
	logger  *slog.Logger
}

// New creates a Sanitizer that drops relationships targeting any of the
// utility names.
func New(utilityTargets []string, logger *slog.Logger) *Sanitizer {
	s := &Sanitizer{
		utility: make(map[string]bool, len(utilityTargets)),
		logger:  logging.OrDiscard(logger),
	}
	for _, u := range utilityTargets {
		s.utility[u] = true
	}
	return s
}

// callableIndex maps a function or method name to the services defining it.
type callableIndex map[string]map[string]model.NodeKind

func indexCallables(nodes []model.CodeNode) callableIndex {
	idx := make(callableIndex)
	for _, n := range nodes {
		if !n.Kind.IsCallable() {
			continue
		}
		if idx[n.Name] == nil {
			idx[n.Name] = make(map[string]model.NodeKind)
		}
		idx[n.Name][n.Service] = n.Kind
	}
	return idx
}

// lookup returns the service and kind a call to name from service should
// target: the caller's own service when it defines name, otherwise the
// first service in sorted order that does.
func (idx callableIndex) lookup(name, service string) (string, model.NodeKind, bool) {
	defs := idx[name]
	if len(defs) == 0 {
		return "", "", false
	}
	if kind, ok := defs[service]; ok {
		return service, kind, true
	}
	services := make([]string, 0, len(defs))
	for s := range defs {
		services = append(services, s)
	}
	sort.Strings(services)
	return services[0], defs[services[0]], true
}

// Sanitize runs the three filters in order and then validates the survivors
// against nodes. The input slice is not modified.
func (s *Sanitizer) Sanitize(rels []model.Relationship, nodes []model.CodeNode) *Result {
	out := &Result{}
	out.Stats.Input = len(rels)
	callables := indexCallables(nodes)
	seen := make(map[model.DedupKey]bool, len(rels))

	for _, rel := range rels {
		if rel.TargetName == "" {
			out.Stats.DroppedNull++
			continue
		}
		if s.utility[rel.TargetName] {
			out.Stats.DroppedUtility++
			continue
		}

		if rel.Type == model.RelCalls {
			svc, kind, ok := callables.lookup(rel.TargetName, rel.TargetService)
			if !ok {
				out.Stats.DroppedUnknown++
				s.logger.Debug("dropping call to unknown function", "source", rel.SourceName, "target", rel.TargetName)
				continue
			}
			if svc != rel.TargetService {
				out.Stats.Retargeted++
				rel.TargetService = svc
			}
			rel.TargetKind = kind
		}

		key := rel.Key()
		if seen[key] {
			out.Stats.Deduplicated++
			continue
		}
		seen[key] = true
		out.Relationships = append(out.Relationships, rel)
	}

	out.Stats.Output = len(out.Relationships)
	out.Issues = Validate(out.Relationships, nodes)
	for _, issue := range out.Issues {
		s.logger.Debug("dangling relationship", "type", issue.Type, "end", issue.End, "name", issue.Name, "service", issue.Service)
	}

	s.logger.Info("relationships sanitized",
		"input", out.Stats.Input,
		"output", out.Stats.Output,
		"dropped", out.Stats.Dropped(),
		"deduplicated", out.Stats.Deduplicated,
		"issues", len(out.Issues))
	return out
}
