package workflow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/tracegraph/internal/diagrams"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// RegisterRoutes mounts workflow catalog endpoints on the given router.
func RegisterRoutes(r chi.Router, store *Store) {
	r.Get("/api/workflows", listWorkflowsHandler(store))
	r.Get("/api/workflows/{id}", getWorkflowHandler(store))
	r.Get("/api/workflows/{id}/diagram", diagramHandler(store))
	r.Get("/api/workflows/entry/{name}", getByEntryPointHandler(store))
}

func listWorkflowsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			result any
			err    error
		)
		switch {
		case q.Get("function") != "":
			result, err = nonNil(store.ContainingFunction(r.Context(), q.Get("function")))
		case q.Get("service") != "":
			result, err = nonNil(store.ByService(r.Context(), q.Get("service")))
		default:
			var list []model.Workflow
			list, err = store.List(r.Context())
			if list == nil {
				list = []model.Workflow{}
			}
			result = list
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func nonNil(hits []Hit, err error) ([]Hit, error) {
	if hits == nil {
		hits = []Hit{}
	}
	return hits, err
}

func getWorkflowHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid workflow id", http.StatusBadRequest)
			return
		}
		wf, err := store.Get(r.Context(), id)
		writeWorkflow(w, wf, err)
	}
}

// diagramHandler returns the workflow route as a mermaid flowchart.
func diagramHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid workflow id", http.StatusBadRequest)
			return
		}
		wf, err := store.Get(r.Context(), id)
		if errors.Is(err, graph.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagrams.WorkflowFlowchart(wf.Workflow, wf.Steps)))
	}
}

func getByEntryPointHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := store.GetByEntryPoint(r.Context(), chi.URLParam(r, "name"))
		writeWorkflow(w, wf, err)
	}
}

func writeWorkflow(w http.ResponseWriter, wf *Details, err error) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, wf)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
