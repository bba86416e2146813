package extract

import (
	"sort"
	"strings"
	"sync"
)

// Endpoint is an HTTP route exposed by a function.
type Endpoint struct {
	Path     string `json:"path"`
	Method   string `json:"method"`
	Service  string `json:"service"`
	Function string `json:"function"`
}

// Registry is the extraction context shared across files: the endpoint
// table keyed by path and the base-URL to service-key table.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string][]Endpoint
	baseURLs  map[string]string
	services  map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string][]Endpoint),
		baseURLs:  make(map[string]string),
		services:  make(map[string]bool),
	}
}

// RegisterEndpoint adds an endpoint. Re-registering an identical endpoint is a no-op.
func (r *Registry) RegisterEndpoint(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.endpoints[ep.Path] {
		if existing == ep {
			return
		}
	}
	r.endpoints[ep.Path] = append(r.endpoints[ep.Path], ep)
	r.services[ep.Service] = true
}

// RegisterBaseURL records that base (scheme://host[:port]) addresses the
// service identified by key. The first registration wins.
func (r *Registry) RegisterBaseURL(base, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.baseURLs[base]; !ok {
		r.baseURLs[base] = key
	}
}

// CanonicalKey maps a literal base URL to its registered service key,
// falling back to the URL's host name. Other keys are returned unchanged.
func (r *Registry) CanonicalKey(key string) string {
	if !strings.Contains(key, "://") {
		return key
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.baseURLs[key]; ok {
		return k
	}
	return HostOf(key)
}

// Lookup finds the endpoint serving path for a caller addressing serviceKey
// with the given HTTP method. Exact path matches are preferred over
// templated ones. A key naming a known service restricts candidates to
// that service; an unknown key (an alias such as localhost) does not.
// Ambiguous results are reported as misses.
func (r *Registry) Lookup(path, serviceKey, method string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.endpoints[path]
	if len(candidates) == 0 {
		for p, eps := range r.endpoints {
			if MatchPath(p, path) {
				candidates = append(candidates, eps...)
			}
		}
	}
	if len(candidates) == 0 {
		return Endpoint{}, false
	}

	if serviceKey != "" {
		var matched []Endpoint
		for _, ep := range candidates {
			if ServiceMatchesKey(ep.Service, serviceKey) {
				matched = append(matched, ep)
			}
		}
		switch {
		case len(matched) > 0:
			candidates = matched
		case r.knowsServiceLocked(serviceKey):
			return Endpoint{}, false
		}
	}

	if len(candidates) > 1 && method != "" {
		var matched []Endpoint
		for _, ep := range candidates {
			if strings.EqualFold(ep.Method, method) {
				matched = append(matched, ep)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}

	if len(candidates) > 1 {
		first := candidates[0]
		for _, ep := range candidates[1:] {
			if ep.Service != first.Service || ep.Function != first.Function {
				return Endpoint{}, false
			}
		}
	}
	return candidates[0], true
}

func (r *Registry) knowsServiceLocked(key string) bool {
	for svc := range r.services {
		if ServiceMatchesKey(svc, key) {
			return true
		}
	}
	return false
}

// Endpoints returns all registered endpoints sorted by path, method and service.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Endpoint
	for _, eps := range r.endpoints {
		out = append(out, eps...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Service < out[j].Service
	})
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, eps := range r.endpoints {
		n += len(eps)
	}
	return n
}
