// Package model defines the entities of the knowledge graph: code nodes, log
// events, the typed relationships between them, and the derived workflow
// catalog.
package model

import (
	"strings"
	"time"
)

// NodeKind is the syntactic kind of a CodeNode.
type NodeKind string

const (
	KindFunction NodeKind = "function"
	KindMethod   NodeKind = "method"
	KindClass    NodeKind = "class"
	KindEndpoint NodeKind = "endpoint"
	// KindLog marks a relationship endpoint that is a LogEvent.
	KindLog NodeKind = "log"
)

// IsCallable reports whether nodes of this kind can be the target of a CALLS edge.
func (k NodeKind) IsCallable() bool {
	return k == KindFunction || k == KindMethod
}

// RelType is the type of a directed relationship.
type RelType string

const (
	RelContains       RelType = "CONTAINS"
	RelCalls          RelType = "CALLS"
	RelAPICalls       RelType = "API_CALLS"
	RelExposes        RelType = "EXPOSES"
	RelExecutedIn     RelType = "executed_in"
	RelLoggedError    RelType = "logged_error"
	RelServiceContext RelType = "service_context"
	RelNextLog        RelType = "next_log"
)

// CodeRelTypes are the relationship types produced by source extraction.
var CodeRelTypes = []RelType{RelContains, RelCalls, RelAPICalls, RelExposes}

// LinkRelTypes are the relationship types produced by the code-log linker.
var LinkRelTypes = []RelType{RelExecutedIn, RelLoggedError, RelServiceContext}

// CodeNode is a function, method, class, or synthetic endpoint extracted from source.
type CodeNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        NodeKind `json:"kind"`
	Service     string   `json:"service"`
	FilePath    string   `json:"file_path"`
	Summary     string   `json:"summary"`
	Snippet     string   `json:"snippet"`
	Parameters  []string `json:"parameters,omitempty"`
	APIMethod   string   `json:"api_method,omitempty"`
	APIEndpoint string   `json:"api_endpoint,omitempty"`
	Line        int      `json:"line,omitempty"`
	// Bases holds base-class names for class nodes; not persisted.
	Bases []string `json:"-"`
}

// Key returns the intended uniqueness key of the node.
func (n CodeNode) Key() NodeKey {
	return NodeKey{Name: n.Name, Kind: n.Kind, Service: n.Service}
}

// NodeKey identifies a CodeNode by (name, kind, service).
type NodeKey struct {
	Name    string
	Kind    NodeKind
	Service string
}

// Relationship is a typed, directed edge. Before persistence its endpoints
// are referenced by name and service; once stored, SourceID and TargetID
// carry the graph identities.
type Relationship struct {
	ID            string    `json:"id,omitempty"`
	Type          RelType   `json:"type"`
	SourceID      string    `json:"source_id,omitempty"`
	TargetID      string    `json:"target_id,omitempty"`
	SourceName    string    `json:"source_name"`
	SourceKind    NodeKind  `json:"source_kind"`
	SourceService string    `json:"source_service"`
	TargetName    string    `json:"target_name,omitempty"`
	TargetKind    NodeKind  `json:"target_kind"`
	TargetService string    `json:"target_service"`
	Endpoint      string    `json:"endpoint,omitempty"`
	HTTPMethod    string    `json:"http_method,omitempty"`
	Description   string    `json:"description"`
	CallOrder     int       `json:"call_order,omitempty"`
	LineNumber    int       `json:"line_number,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Unresolved reports whether the relationship has no target yet.
func (r Relationship) Unresolved() bool {
	return r.TargetName == ""
}

// DedupKey is the tuple on which sanitized relationships are unique.
type DedupKey struct {
	Source        string
	Target        string
	Type          RelType
	SourceService string
	TargetService string
}

// Key returns the dedup tuple of the relationship.
func (r Relationship) Key() DedupKey {
	return DedupKey{
		Source:        r.SourceName,
		Target:        r.TargetName,
		Type:          r.Type,
		SourceService: r.SourceService,
		TargetService: r.TargetService,
	}
}

// LogEvent is one structured log line.
type LogEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	RawTimestamp  string    `json:"raw_timestamp"`
	Service       string    `json:"service"`
	Level         string    `json:"level"`
	TraceID       string    `json:"trace_id"`
	OrderID       string    `json:"order_id,omitempty"`
	FunctionLabel string    `json:"function_label,omitempty"`
	Message       string    `json:"message"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorType     string    `json:"error_type,omitempty"`
	Exception     string    `json:"exception,omitempty"`
	DurationMs    *float64  `json:"duration_ms,omitempty"`
	Metadata      string    `json:"metadata"`
	// Seq is the parse/arrival order, used to break timestamp ties.
	Seq      int    `json:"seq"`
	FilePath string `json:"file_path,omitempty"`
}

// IsError reports whether the event was logged at ERROR level.
func (e LogEvent) IsError() bool {
	return strings.EqualFold(e.Level, "ERROR")
}

// WorkflowType classifies a workflow by its entry point.
type WorkflowType string

const (
	WorkflowInstitutional WorkflowType = "institutional"
	WorkflowAlgo          WorkflowType = "algo"
	WorkflowRetail        WorkflowType = "retail"
	WorkflowCommon        WorkflowType = "common"
)

// Workflow is one WorkflowCatalog row.
type Workflow struct {
	ID               int64        `json:"workflow_id"`
	EntryPointName   string       `json:"entry_point_name"`
	Type             WorkflowType `json:"workflow_type"`
	Route            []string     `json:"route"`
	Summary          string       `json:"summary"`
	TotalSteps       int          `json:"total_steps"`
	ServicesInvolved []string     `json:"services_involved"`
	CreatedAt        time.Time    `json:"created_at"`
}

// DataContract is the lightweight signature information recovered for a step.
type DataContract struct {
	Parameters     []string `json:"parameters"`
	ReturnType     string   `json:"return_type,omitempty"`
	FieldsAccessed []string `json:"fields_accessed"`
}

// WorkflowFunction is one WorkflowFunctions row: a step on a workflow route.
type WorkflowFunction struct {
	WorkflowID   int64        `json:"workflow_id"`
	FunctionName string       `json:"function_name"`
	StepOrder    int          `json:"step_order"`
	ServiceName  string       `json:"service_name"`
	Summary      string       `json:"summary"`
	DataContract DataContract `json:"data_contract"`
}
