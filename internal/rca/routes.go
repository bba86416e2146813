package rca

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/tracegraph/internal/diagrams"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// RegisterRoutes mounts RCA endpoints on the given router.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/api/rca/function/{name}", byFunctionHandler(svc))
	r.Get("/api/rca/service/{name}", byServiceHandler(svc))
	r.Get("/api/rca/workflow/{name}", workflowHandler(svc))
	r.Get("/api/rca/context/{name}", contextHandler(svc))
	r.Get("/api/traces", listTracesHandler(svc))
	r.Get("/api/traces/{id}", traceHandler(svc))
	r.Get("/api/traces/{id}/diagram", traceDiagramHandler(svc))
}

func byFunctionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits, err := svc.ByFunction(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if hits == nil {
			writeJSON(w, http.StatusOK, []struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, hits)
	}
}

func byServiceHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits, err := svc.ByService(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if hits == nil {
			writeJSON(w, http.StatusOK, []struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, hits)
	}
}

func workflowHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Workflows(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(d.Workflows) == 0 {
			http.Error(w, "no workflows contain this function", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func contextHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := svc.Context(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
	}
}

func listTracesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traces, err := svc.Traces(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if traces == nil {
			traces = []graph.TraceSummary{}
		}
		writeJSON(w, http.StatusOK, traces)
	}
}

func traceHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Trace(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, graph.ErrNotFound) {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// traceDiagramHandler returns the trace as a mermaid sequence diagram.
func traceDiagramHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Trace(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, graph.ErrNotFound) {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagrams.TraceSequence(report.Events)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
