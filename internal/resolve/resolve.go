// Package resolve maps unresolved API_CALLS relationships onto the functions
// that serve their endpoints, once every file's endpoints are registered.
package resolve

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/extract"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Stats are the resolution phase counts.
type Stats struct {
	APICalls int `json:"api_calls"`
	Resolved int `json:"resolved"`
	Unmapped int `json:"unmapped"`
}

// Unmapped describes an API call whose endpoint is not served by any known function.
type Unmapped struct {
	Source     string `json:"source"`
	Service    string `json:"service"`
	ServiceKey string `json:"service_key"`
	Endpoint   string `json:"endpoint"`
	Method     string `json:"method,omitempty"`
}

// Result is the output of Resolve.
type Result struct {
	Relationships []model.Relationship
	Unmapped      []Unmapped
	Stats         Stats
}

// Resolve returns a copy of rels in which every API_CALLS relationship whose
// endpoint is found in reg targets the serving function. Misses keep an
// empty target name and are reported in Result.Unmapped; they are not errors.
func Resolve(rels []model.Relationship, reg *extract.Registry, logger *slog.Logger) *Result {
	logger = logging.OrDiscard(logger)
	out := &Result{Relationships: make([]model.Relationship, len(rels))}
	copy(out.Relationships, rels)

	for i := range out.Relationships {
		rel := &out.Relationships[i]
		if rel.Type != model.RelAPICalls || !rel.Unresolved() {
			continue
		}
		out.Stats.APICalls++

		key := reg.CanonicalKey(rel.TargetService)
		ep, ok := reg.Lookup(extract.NormalizePath(rel.Endpoint), key, rel.HTTPMethod)
		if !ok {
			out.Stats.Unmapped++
			out.Unmapped = append(out.Unmapped, Unmapped{
				Source:     rel.SourceName,
				Service:    rel.SourceService,
				ServiceKey: key,
				Endpoint:   rel.Endpoint,
				Method:     rel.HTTPMethod,
			})
			logger.Debug("unmapped api call", "source", rel.SourceName, "service_key", key, "endpoint", rel.Endpoint)
			continue
		}

		rel.TargetName = ep.Function
		rel.TargetService = ep.Service
		rel.TargetKind = model.KindFunction
		if strings.Contains(ep.Function, ".") {
			rel.TargetKind = model.KindMethod
		}
		if rel.HTTPMethod == "" {
			rel.HTTPMethod = ep.Method
		}
		rel.Description = fmt.Sprintf("%s calls %s in %s via %s %s",
			rel.SourceName, ep.Function, ep.Service, ep.Method, ep.Path)
		out.Stats.Resolved++
	}

	logger.Info("api calls resolved",
		"api_calls", out.Stats.APICalls,
		"resolved", out.Stats.Resolved,
		"unmapped", out.Stats.Unmapped)
	return out
}
