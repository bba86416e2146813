package graph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

const relColumns = `id, type, source_id, target_id, source_name, source_kind, target_name, target_kind,
	source_service, target_service, endpoint, http_method, description, call_order, line_number, timestamp`

// timestampLayout is a fixed-width UTC layout so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func insertRelationship(ctx context.Context, tx *sql.Tx, rel *model.Relationship, now time.Time) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.Timestamp.IsZero() {
		rel.Timestamp = now
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO relationships (`+relColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, string(rel.Type), rel.SourceID, rel.TargetID,
		rel.SourceName, string(rel.SourceKind), rel.TargetName, string(rel.TargetKind),
		rel.SourceService, rel.TargetService, rel.Endpoint, rel.HTTPMethod, rel.Description,
		rel.CallOrder, rel.LineNumber, formatTime(rel.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting %s relationship %s -> %s: %w", rel.Type, rel.SourceName, rel.TargetName, err)
	}
	return nil
}

// RelFilter selects relationships. Empty fields match everything.
type RelFilter struct {
	Types    []model.RelType
	SourceID string
	TargetID string
	Service  string // matches either the source or the target service
}

// Relationships returns the relationships matching f, ordered by source,
// call order and line number.
func (s *Store) Relationships(ctx context.Context, f RelFilter) ([]model.Relationship, error) {
	var where []string
	var args []any
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.Service != "" {
		where = append(where, "(source_service = ? OR target_service = ?)")
		args = append(args, f.Service, f.Service)
	}

	q := `SELECT ` + relColumns + ` FROM relationships`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY source_service, source_name, call_order, line_number, type, target_name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows *sql.Rows) ([]model.Relationship, error) {
	var out []model.Relationship
	for rows.Next() {
		var r model.Relationship
		var typ, srcKind, dstKind, ts string
		if err := rows.Scan(&r.ID, &typ, &r.SourceID, &r.TargetID, &r.SourceName, &srcKind,
			&r.TargetName, &dstKind, &r.SourceService, &r.TargetService, &r.Endpoint,
			&r.HTTPMethod, &r.Description, &r.CallOrder, &r.LineNumber, &ts); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		r.Type = model.RelType(typ)
		r.SourceKind = model.NodeKind(srcKind)
		r.TargetKind = model.NodeKind(dstKind)
		r.Timestamp = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// prefixed qualifies each column of a column list with prefix.
func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// ReplaceRelationships deletes every relationship of the given types and
// inserts rels in one transaction. rels must carry source and target ids.
func (s *Store) ReplaceRelationships(ctx context.Context, phase string, types []model.RelType, rels []model.Relationship) (deleted int64, err error) {
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if len(types) > 0 {
			args := make([]any, len(types))
			for i, t := range types {
				args[i] = string(t)
			}
			res, err := tx.ExecContext(ctx,
				`DELETE FROM relationships WHERE type IN (`+placeholders(len(types))+`)`, args...)
			if err != nil {
				return fmt.Errorf("deleting relationships: %w", err)
			}
			deleted, _ = res.RowsAffected()
		}
		for i := range rels {
			if rels[i].SourceID == "" || rels[i].TargetID == "" {
				return fmt.Errorf("%s relationship %s -> %s has no identity", rels[i].Type, rels[i].SourceName, rels[i].TargetName)
			}
			if err := insertRelationship(ctx, tx, &rels[i], s.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageErr(phase, err)
	}
	return deleted, nil
}

// CountByType returns the number of relationships of each type.
func (s *Store) CountByType(ctx context.Context) (map[model.RelType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM relationships GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting relationships: %w", err)
	}
	defer rows.Close()
	out := make(map[model.RelType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[model.RelType(typ)] = n
	}
	return out, rows.Err()
}
