// Package audit records the operations that changed the knowledge graph.
package audit

import "time"

// Action describes what was done to the graph.
type Action string

const (
	ActionIngest    Action = "ingest"
	ActionExtract   Action = "extract"
	ActionLogs      Action = "logs"
	ActionLink      Action = "link"
	ActionWorkflows Action = "workflows"
	ActionAnnotate  Action = "annotate"
	ActionReset     Action = "reset"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	// Target is the ingested root, annotation source or database path.
	Target  string `json:"target"`
	Summary string `json:"summary"`
	// Detail holds the JSON phase report.
	Detail   string   `json:"detail,omitempty"`
	Services []string `json:"services"`
}
