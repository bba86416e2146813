// Package diagrams renders workflows and traces as Mermaid diagrams.
package diagrams

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// WorkflowFlowchart renders a workflow route as a mermaid flowchart with one
// subgraph per service, the steps linked in route order.
func WorkflowFlowchart(wf model.Workflow, steps []model.WorkflowFunction) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	var services []string
	byService := make(map[string][]model.WorkflowFunction)
	for _, s := range steps {
		if _, ok := byService[s.ServiceName]; !ok {
			services = append(services, s.ServiceName)
		}
		byService[s.ServiceName] = append(byService[s.ServiceName], s)
	}

	for _, svc := range services {
		b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", sanitizeID("svc_"+svc), escapeMermaid(svc)))
		for _, s := range byService[svc] {
			b.WriteString(fmt.Sprintf("        %s[\"%d. %s\"]\n", stepID(s), s.StepOrder, escapeMermaid(s.FunctionName)))
		}
		b.WriteString("    end\n")
	}

	for i := 1; i < len(steps); i++ {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", stepID(steps[i-1]), stepID(steps[i])))
	}
	if len(steps) > 0 && steps[0].FunctionName == wf.EntryPointName {
		b.WriteString(fmt.Sprintf("    style %s stroke-width:3px\n", stepID(steps[0])))
	}

	return b.String()
}

func stepID(s model.WorkflowFunction) string {
	return fmt.Sprintf("s%d_%s", s.StepOrder, sanitizeID(s.FunctionName))
}

// TraceSequence renders a trace's ordered log events as a mermaid sequence
// diagram. A hop between services becomes a message carrying the target
// event; consecutive events of one service become notes.
func TraceSequence(events []model.LogEvent) string {
	var b strings.Builder
	b.WriteString("sequenceDiagram\n")

	seen := make(map[string]bool)
	for _, e := range events {
		if !seen[e.Service] {
			seen[e.Service] = true
			b.WriteString(fmt.Sprintf("    participant %s as %s\n", sanitizeID(e.Service), escapeMermaid(e.Service)))
		}
	}

	for i, e := range events {
		label := escapeMermaid(truncate(eventLabel(e), 80))
		to := sanitizeID(e.Service)
		if i == 0 || events[i-1].Service == e.Service {
			b.WriteString(fmt.Sprintf("    Note over %s: %s\n", to, label))
			continue
		}
		arrow := "->>"
		if e.IsError() {
			arrow = "-x"
		}
		b.WriteString(fmt.Sprintf("    %s%s%s: %s\n", sanitizeID(events[i-1].Service), arrow, to, label))
	}

	return b.String()
}

func eventLabel(e model.LogEvent) string {
	if e.IsError() {
		return e.Level + " " + e.Message
	}
	return e.Message
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// sanitizeID converts a string into a safe mermaid node ID.
func sanitizeID(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		".", "_",
		"-", "_",
		" ", "_",
		"(", "_",
		")", "_",
		"[", "_",
		"]", "_",
		"{", "_",
		"}", "_",
		":", "_",
	)
	return replacer.Replace(s)
}

// escapeMermaid escapes characters that have special meaning in mermaid labels.
func escapeMermaid(s string) string {
	s = strings.ReplaceAll(s, ";", "#59;")
	s = strings.ReplaceAll(s, "\"", "#quot;")
	s = strings.ReplaceAll(s, "(", "#lpar;")
	s = strings.ReplaceAll(s, ")", "#rpar;")
	s = strings.ReplaceAll(s, "[", "#lsqb;")
	s = strings.ReplaceAll(s, "]", "#rsqb;")
	s = strings.ReplaceAll(s, "{", "#lbrace;")
	s = strings.ReplaceAll(s, "}", "#rbrace;")
	s = strings.ReplaceAll(s, "<", "#lt;")
	s = strings.ReplaceAll(s, ">", "#gt;")
	return s
}
