package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Classify derives the workflow type from its entry point name.
func Classify(entryPoint string) model.WorkflowType {
	name := strings.ToLower(entryPoint)
	switch {
	case strings.Contains(name, "institutional"):
		return model.WorkflowInstitutional
	case strings.Contains(name, "algo"):
		return model.WorkflowAlgo
	case strings.Contains(name, "retail"), name == "place_order":
		return model.WorkflowRetail
	default:
		return model.WorkflowCommon
	}
}

// Summarize narrates a route from the summaries of its first steps and the
// services it involves. Routes whose steps carry no summary fall back to a
// step count.
func Summarize(steps []model.WorkflowFunction, limit int) string {
	if len(steps) == 0 {
		return "Empty workflow"
	}
	var summaries []string
	for _, s := range steps {
		if strings.TrimSpace(s.Summary) != "" {
			summaries = append(summaries, s.Summary)
		}
	}
	if len(summaries) == 0 {
		return fmt.Sprintf("Workflow with %d steps", len(steps))
	}
	if limit <= 0 {
		limit = len(summaries)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow '%s': ", steps[0].FunctionName)
	shown := summaries
	if len(shown) > limit {
		shown = shown[:limit]
	}
	b.WriteString(strings.Join(shown, " → "))
	if more := len(summaries) - len(shown); more > 0 {
		fmt.Fprintf(&b, " ... and %d more steps", more)
	}
	services := ServicesOf(steps)
	fmt.Fprintf(&b, ". Involves %d service(s): %s", len(services), strings.Join(services, ", "))
	return b.String()
}

// ServicesOf returns the sorted distinct services of the steps.
func ServicesOf(steps []model.WorkflowFunction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range steps {
		if s.ServiceName != "" && !seen[s.ServiceName] {
			seen[s.ServiceName] = true
			out = append(out, s.ServiceName)
		}
	}
	sort.Strings(out)
	return out
}
