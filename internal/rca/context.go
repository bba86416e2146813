package rca

import (
	"context"
	"fmt"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

const rule = "===================================================================================================="

// Context renders the workflows around function as plain text for an LLM
// assistant, marking the function's step on each route.
func (s *Service) Context(ctx context.Context, function string) (string, error) {
	d, err := s.Workflows(ctx, function)
	if err != nil {
		return "", err
	}
	if len(d.Workflows) == 0 {
		return fmt.Sprintf("No workflows found containing function '%s'", function), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RCA CONTEXT FOR FUNCTION: %s\n%s\n\n", function, rule)
	if d.EntryPoint {
		b.WriteString("Function Type: ENTRY POINT (starts the workflow)\n")
		b.WriteString("Workflows Affected: 1\n\n")
		writeWorkflowContext(&b, d.Workflows[0], function)
		return b.String(), nil
	}

	b.WriteString("Function Type: INTERNAL FUNCTION (called within workflows)\n")
	fmt.Fprintf(&b, "Workflows Affected: %d\n\n", len(d.Workflows))
	for i, wf := range d.Workflows {
		fmt.Fprintf(&b, "[WORKFLOW %d]\n", i+1)
		writeWorkflowContext(&b, wf, function)
		fmt.Fprintf(&b, "\n%s\n\n", strings.Repeat("-", len(rule)))
	}
	return b.String(), nil
}

func writeWorkflowContext(b *strings.Builder, wf *workflow.Details, target string) {
	fmt.Fprintf(b, "Workflow Name: %s\n", wf.EntryPointName)
	fmt.Fprintf(b, "Type: %s\n", wf.Type)
	fmt.Fprintf(b, "Total Steps: %d\n", wf.TotalSteps)
	fmt.Fprintf(b, "Services: %s\n", strings.Join(wf.ServicesInvolved, ", "))
	fmt.Fprintf(b, "Summary: %s\n\n", wf.Summary)

	fmt.Fprintf(b, "COMPLETE EXECUTION PATH (%d steps):\n\n", len(wf.Steps))
	for _, st := range wf.Steps {
		marker := ""
		if st.FunctionName == target {
			marker = " <<<< TARGET FUNCTION"
		}
		fmt.Fprintf(b, "Step %d/%d: %s [%s]%s\n", st.StepOrder, wf.TotalSteps, st.FunctionName, st.ServiceName, marker)
		fmt.Fprintf(b, "  Purpose: %s\n", st.Summary)
		c := st.DataContract
		if len(c.Parameters) > 0 {
			fmt.Fprintf(b, "  Parameters: %s\n", strings.Join(c.Parameters, ", "))
		}
		if c.ReturnType != "" {
			fmt.Fprintf(b, "  Returns: %s\n", c.ReturnType)
		}
		if len(c.FieldsAccessed) > 0 {
			fmt.Fprintf(b, "  Accesses: %s\n", strings.Join(c.FieldsAccessed, ", "))
		}
		b.WriteString("\n")
	}
}
