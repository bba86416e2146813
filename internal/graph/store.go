// Package graph persists the knowledge graph (code nodes, log events and
// typed relationships) in SQLite and answers the traversal queries the
// linker, workflow engine and RCA layer are built on.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Store provides graph persistence and queries.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a new graph store.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

// DB returns the underlying database.
func (s *Store) DB() *db.DB {
	return s.db
}

// CodeStats are the counts of a code graph write.
type CodeStats struct {
	NodesCreated   int `json:"nodes_created"`
	NodesUpdated   int `json:"nodes_updated"`
	NodesPruned    int `json:"nodes_pruned"`
	// NodesPreserved counts stored nodes kept because their file failed to parse.
	NodesPreserved int `json:"nodes_preserved"`
	Relationships  int `json:"relationships_created"`
	Dropped        int `json:"relationships_dropped"`
}

const nodeColumns = `id, name, kind, service, file_path, summary, snippet, parameters, api_method, api_endpoint, line`

// ReplaceCodeGraph stores the code graph of the services present in nodes.
// Nodes are upserted on (name, kind, service): an existing node keeps its
// identity and an annotated summary. Nodes of those services that are no
// longer extracted are pruned, and the services' code relationships are
// replaced by rels. Relationships whose endpoints cannot be mapped to a
// stored node are dropped and counted. Everything happens in one
// transaction; on failure nothing is written.
func (s *Store) ReplaceCodeGraph(ctx context.Context, nodes []model.CodeNode, rels []model.Relationship) (*CodeStats, error) {
	return s.RefreshCodeGraph(ctx, nodes, rels, nil)
}

// RefreshCodeGraph is ReplaceCodeGraph for an extraction in which the files
// in failedFiles could not be parsed. Stored nodes of those files are kept,
// with their summaries and outgoing code relationships, instead of being
// pruned.
func (s *Store) RefreshCodeGraph(ctx context.Context, nodes []model.CodeNode, rels []model.Relationship, failedFiles []string) (*CodeStats, error) {
	stats := &CodeStats{}
	failed := make(map[string]bool, len(failedFiles))
	for _, f := range failedFiles {
		failed[f] = true
	}
	services := make(map[string]bool)
	for _, n := range nodes {
		services[n.Service] = true
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		ids := make(map[model.NodeKey]string, len(nodes))
		for _, n := range nodes {
			id, created, err := upsertNode(ctx, tx, n, s.now())
			if err != nil {
				return err
			}
			ids[n.Key()] = id
			if created {
				stats.NodesCreated++
			} else {
				stats.NodesUpdated++
			}
		}

		for _, svc := range sortedKeys(services) {
			pruned, preserved, err := pruneService(ctx, tx, svc, ids, failed)
			if err != nil {
				return err
			}
			stats.NodesPruned += pruned
			stats.NodesPreserved += len(preserved)
			if err := deleteCodeRelationships(ctx, tx, svc, preserved); err != nil {
				return err
			}
		}

		resolver, err := newIDResolver(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			srcID, ok := resolver.id(rel.SourceName, rel.SourceKind, rel.SourceService)
			if !ok {
				stats.Dropped++
				continue
			}
			dstID, ok := resolver.id(rel.TargetName, rel.TargetKind, rel.TargetService)
			if !ok {
				stats.Dropped++
				continue
			}
			rel.SourceID, rel.TargetID = srcID, dstID
			if err := insertRelationship(ctx, tx, &rel, s.now()); err != nil {
				return err
			}
			stats.Relationships++
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("code graph", err)
	}
	return stats, nil
}

func upsertNode(ctx context.Context, tx *sql.Tx, n model.CodeNode, now time.Time) (id string, created bool, err error) {
	params := n.Parameters
	if params == nil {
		params = []string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", false, fmt.Errorf("marshaling parameters: %w", err)
	}

	newID := uuid.NewString()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO code_nodes (`+nodeColumns+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, kind, service) DO UPDATE SET
		   file_path = excluded.file_path,
		   summary = CASE WHEN code_nodes.annotated = 1 THEN code_nodes.summary ELSE excluded.summary END,
		   snippet = excluded.snippet,
		   parameters = excluded.parameters,
		   api_method = excluded.api_method,
		   api_endpoint = excluded.api_endpoint,
		   line = excluded.line,
		   updated_at = excluded.updated_at
		 RETURNING id`,
		newID, n.Name, string(n.Kind), n.Service, n.FilePath, n.Summary, n.Snippet,
		string(paramsJSON), n.APIMethod, n.APIEndpoint, n.Line, now.UTC(), now.UTC(),
	).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("upserting node %s/%s: %w", n.Service, n.Name, err)
	}
	return id, id == newID, nil
}

// pruneService deletes nodes of svc that are not in keep, along with every
// relationship touching them. Nodes whose file is in failed are left alone
// and their ids returned as preserved.
func pruneService(ctx context.Context, tx *sql.Tx, svc string, keep map[model.NodeKey]string, failed map[string]bool) (pruned int, preserved []string, err error) {
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, file_path FROM code_nodes WHERE service = ?`, svc)
	if err != nil {
		return 0, nil, fmt.Errorf("listing nodes of %s: %w", svc, err)
	}
	var stale []string
	for rows.Next() {
		var id, file string
		if err := rows.Scan(&id, &file); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("scanning node id: %w", err)
		}
		switch {
		case kept[id]:
		case failed[file]:
			preserved = append(preserved, id)
		default:
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
			return 0, nil, fmt.Errorf("deleting relationships of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM code_nodes WHERE id = ?`, id); err != nil {
			return 0, nil, fmt.Errorf("deleting node %s: %w", id, err)
		}
	}
	return len(stale), preserved, nil
}

// deleteCodeRelationships removes the code relationships of svc except
// those leaving a node in skipSources.
func deleteCodeRelationships(ctx context.Context, tx *sql.Tx, svc string, skipSources []string) error {
	args := []any{svc}
	for _, t := range model.CodeRelTypes {
		args = append(args, string(t))
	}
	query := `DELETE FROM relationships WHERE source_service = ? AND type IN (` + placeholders(len(model.CodeRelTypes)) + `)`
	if len(skipSources) > 0 {
		query += ` AND source_id NOT IN (` + placeholders(len(skipSources)) + `)`
		for _, id := range skipSources {
			args = append(args, id)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting code relationships of %s: %w", svc, err)
	}
	return nil
}

// idResolver maps relationship endpoints to stored node ids. Nodes written
// in the current transaction are consulted first, then every stored node.
type idResolver struct {
	byKey  map[model.NodeKey]string
	byName map[[2]string][]nodeRef
}

type nodeRef struct {
	id   string
	kind model.NodeKind
}

func newIDResolver(ctx context.Context, tx *sql.Tx, written map[model.NodeKey]string) (*idResolver, error) {
	r := &idResolver{
		byKey:  make(map[model.NodeKey]string, len(written)),
		byName: make(map[[2]string][]nodeRef),
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, name, kind, service FROM code_nodes ORDER BY name, kind, service`)
	if err != nil {
		return nil, fmt.Errorf("loading node ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, kind, svc string
		if err := rows.Scan(&id, &name, &kind, &svc); err != nil {
			return nil, fmt.Errorf("scanning node id: %w", err)
		}
		k := model.NodeKey{Name: name, Kind: model.NodeKind(kind), Service: svc}
		r.byKey[k] = id
		r.byName[[2]string{name, svc}] = append(r.byName[[2]string{name, svc}], nodeRef{id: id, kind: k.Kind})
	}
	for k, id := range written {
		r.byKey[k] = id
	}
	return r, rows.Err()
}

// id finds the node for an endpoint. When the exact kind is unknown, a
// callable node of the same name and service is preferred.
func (r *idResolver) id(name string, kind model.NodeKind, svc string) (string, bool) {
	if name == "" {
		return "", false
	}
	if id, ok := r.byKey[model.NodeKey{Name: name, Kind: kind, Service: svc}]; ok {
		return id, true
	}
	refs := r.byName[[2]string{name, svc}]
	for _, ref := range refs {
		if ref.kind.IsCallable() {
			return ref.id, true
		}
	}
	if len(refs) > 0 {
		return refs[0].id, true
	}
	return "", false
}

// NodeFilter selects code nodes. Empty fields match everything.
type NodeFilter struct {
	Name    string
	Kind    model.NodeKind
	Service string
	// NameLike matches names containing the value.
	NameLike string
}

// Nodes returns the code nodes matching f ordered by service, name and kind.
func (s *Store) Nodes(ctx context.Context, f NodeFilter) ([]model.CodeNode, error) {
	var where []string
	var args []any
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Service != "" {
		where = append(where, "service = ?")
		args = append(args, f.Service)
	}
	if f.NameLike != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+f.NameLike+"%")
	}
	q := `SELECT ` + nodeColumns + ` FROM code_nodes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY service, name, kind"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var out []model.CodeNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Node returns the code node with the given id.
func (s *Store) Node(ctx context.Context, id string) (*model.CodeNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM code_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*model.CodeNode, error) {
	var n model.CodeNode
	var kind, params string
	if err := sc.Scan(&n.ID, &n.Name, &kind, &n.Service, &n.FilePath, &n.Summary, &n.Snippet,
		&params, &n.APIMethod, &n.APIEndpoint, &n.Line); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	n.Kind = model.NodeKind(kind)
	if err := json.Unmarshal([]byte(params), &n.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshaling parameters of %s: %w", n.Name, err)
	}
	return &n, nil
}

// Annotation is a summary produced for a node by an annotator.
type Annotation struct {
	NodeID  string `json:"nodeId"`
	Summary string `json:"summary"`
}

// ApplyAnnotations stores non-empty summaries and marks the nodes as
// annotated so later re-ingests keep them. Unknown node ids and empty
// summaries are skipped. It returns the number of nodes updated.
func (s *Store) ApplyAnnotations(ctx context.Context, anns []Annotation) (int, error) {
	updated := 0
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, a := range anns {
			summary := strings.TrimSpace(a.Summary)
			if a.NodeID == "" || summary == "" {
				continue
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE code_nodes SET summary = ?, annotated = 1, updated_at = ? WHERE id = ?`,
				summary, s.now().UTC(), a.NodeID)
			if err != nil {
				return fmt.Errorf("updating summary of %s: %w", a.NodeID, err)
			}
			n, _ := res.RowsAffected()
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("annotations", err)
	}
	return updated, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
