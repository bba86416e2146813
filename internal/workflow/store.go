package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Details is a catalog workflow with its ordered steps.
type Details struct {
	model.Workflow
	Steps []model.WorkflowFunction `json:"steps"`
}

// Hit is a workflow matched by an RCA query, with the step that matched.
type Hit struct {
	model.Workflow
	StepOrder int    `json:"step_order"`
	Function  string `json:"function"`
	Service   string `json:"service"`
}

// Store reads and writes the workflow catalog.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a new workflow catalog store.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

const catalogColumns = `workflow_id, entry_point_name, workflow_type, route, summary, total_steps, services_involved, created_at`

// Replace clears the catalog and writes workflows in one transaction. The
// assigned workflow ids are set on the passed values.
func (s *Store) Replace(ctx context.Context, workflows []*Details) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_functions`); err != nil {
			return fmt.Errorf("clearing workflow functions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_catalog`); err != nil {
			return fmt.Errorf("clearing workflow catalog: %w", err)
		}
		now := s.now().UTC()
		for _, wf := range workflows {
			if err := insertWorkflow(ctx, tx, wf, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &graph.StorageError{Phase: "workflow catalog", Err: err}
	}
	return nil
}

func insertWorkflow(ctx context.Context, tx *sql.Tx, wf *Details, now time.Time) error {
	if wf.Route == nil {
		wf.Route = []string{}
	}
	if wf.ServicesInvolved == nil {
		wf.ServicesInvolved = []string{}
	}
	routeJSON, err := json.Marshal(wf.Route)
	if err != nil {
		return fmt.Errorf("marshaling route: %w", err)
	}
	servicesJSON, err := json.Marshal(wf.ServicesInvolved)
	if err != nil {
		return fmt.Errorf("marshaling services: %w", err)
	}
	wf.CreatedAt = now

	err = tx.QueryRowContext(ctx,
		`INSERT INTO workflow_catalog (entry_point_name, workflow_type, route, summary, total_steps, services_involved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING workflow_id`,
		wf.EntryPointName, string(wf.Type), string(routeJSON), wf.Summary, wf.TotalSteps, string(servicesJSON), now,
	).Scan(&wf.ID)
	if err != nil {
		return fmt.Errorf("inserting workflow %s: %w", wf.EntryPointName, err)
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		step.WorkflowID = wf.ID
		contractJSON, err := json.Marshal(step.DataContract)
		if err != nil {
			return fmt.Errorf("marshaling data contract: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_functions (workflow_id, function_name, step_order, service_name, summary, data_contract)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			step.WorkflowID, step.FunctionName, step.StepOrder, step.ServiceName, step.Summary, string(contractJSON),
		); err != nil {
			return fmt.Errorf("inserting step %d of %s: %w", step.StepOrder, wf.EntryPointName, err)
		}
	}
	return nil
}

func scanWorkflow(sc interface{ Scan(...any) error }) (*model.Workflow, error) {
	var wf model.Workflow
	var typ, routeJSON, servicesJSON string
	if err := sc.Scan(&wf.ID, &wf.EntryPointName, &typ, &routeJSON, &wf.Summary, &wf.TotalSteps,
		&servicesJSON, &wf.CreatedAt); err != nil {
		return nil, err
	}
	wf.Type = model.WorkflowType(typ)
	if err := json.Unmarshal([]byte(routeJSON), &wf.Route); err != nil {
		return nil, fmt.Errorf("unmarshaling route: %w", err)
	}
	if err := json.Unmarshal([]byte(servicesJSON), &wf.ServicesInvolved); err != nil {
		return nil, fmt.Errorf("unmarshaling services: %w", err)
	}
	return &wf, nil
}

// List returns all workflows ordered by type and entry point.
func (s *Store) List(ctx context.Context) ([]model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM workflow_catalog ORDER BY workflow_type, entry_point_name`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var result []model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		result = append(result, *wf)
	}
	return result, rows.Err()
}

// Get returns a workflow and its steps.
func (s *Store) Get(ctx context.Context, id int64) (*Details, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM workflow_catalog WHERE workflow_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %d: %w", id, graph.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	steps, err := s.steps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Workflow: *wf, Steps: steps}, nil
}

// GetByEntryPoint returns the workflow starting at the named function.
func (s *Store) GetByEntryPoint(ctx context.Context, name string) (*Details, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT workflow_id FROM workflow_catalog WHERE entry_point_name = ? ORDER BY workflow_id LIMIT 1`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", name, graph.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow %s: %w", name, err)
	}
	return s.Get(ctx, id)
}

func (s *Store) steps(ctx context.Context, id int64) ([]model.WorkflowFunction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, function_name, step_order, service_name, summary, data_contract
		 FROM workflow_functions WHERE workflow_id = ? ORDER BY step_order`, id)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	var steps []model.WorkflowFunction
	for rows.Next() {
		var st model.WorkflowFunction
		var contractJSON string
		if err := rows.Scan(&st.WorkflowID, &st.FunctionName, &st.StepOrder, &st.ServiceName,
			&st.Summary, &contractJSON); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		if err := json.Unmarshal([]byte(contractJSON), &st.DataContract); err != nil {
			return nil, fmt.Errorf("unmarshaling data contract: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ContainingFunction returns the workflows whose route includes the function.
func (s *Store) ContainingFunction(ctx context.Context, function string) ([]Hit, error) {
	return s.hits(ctx, `wf.function_name = ?`, function)
}

// ByService returns the workflows with a step in a service whose name
// contains service. Each workflow is reported once, at its first such step.
func (s *Store) ByService(ctx context.Context, service string) ([]Hit, error) {
	return s.hits(ctx, `wf.service_name LIKE ?`, "%"+service+"%")
}

func (s *Store) hits(ctx context.Context, cond string, arg any) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wc.workflow_id, wc.entry_point_name, wc.workflow_type, wc.route, wc.summary, wc.total_steps,
		        wc.services_involved, wc.created_at, wf.step_order, wf.function_name, wf.service_name
		 FROM workflow_catalog wc
		 JOIN workflow_functions wf ON wc.workflow_id = wf.workflow_id
		 WHERE `+cond+`
		 ORDER BY wc.workflow_type, wc.entry_point_name, wf.step_order`, arg)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	var out []Hit
	for rows.Next() {
		var h Hit
		var typ, routeJSON, servicesJSON string
		if err := rows.Scan(&h.ID, &h.EntryPointName, &typ, &routeJSON, &h.Summary, &h.TotalSteps,
			&servicesJSON, &h.CreatedAt, &h.StepOrder, &h.Function, &h.Service); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		h.Type = model.WorkflowType(typ)
		if err := json.Unmarshal([]byte(routeJSON), &h.Route); err != nil {
			return nil, fmt.Errorf("unmarshaling route: %w", err)
		}
		if err := json.Unmarshal([]byte(servicesJSON), &h.ServicesInvolved); err != nil {
			return nil, fmt.Errorf("unmarshaling services: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
