package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

const logColumns = `id, timestamp, raw_timestamp, service, level, trace_id, order_id, function_label,
	message, error_code, error_type, exception, duration_ms, metadata, seq, file_path`

// LogStats are the counts of a log write.
type LogStats struct {
	TracesReplaced int `json:"traces_replaced"`
	Events         int `json:"events_created"`
	ChainEdges     int `json:"next_log_created"`
}

// ReplaceTraces stores events and their next_log chain edges. Every trace
// present in events is replaced: its previous events and all relationships
// touching them are deleted first. Events without an ID get one; chain
// edges refer to events by ID. All writes happen in one transaction.
func (s *Store) ReplaceTraces(ctx context.Context, events []model.LogEvent, chain []model.Relationship) (*LogStats, error) {
	stats := &LogStats{}
	traces := make(map[string]bool)
	for _, e := range events {
		traces[e.TraceID] = true
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, trace := range sortedKeys(traces) {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM relationships WHERE source_id IN (SELECT id FROM log_events WHERE trace_id = ?)
				    OR target_id IN (SELECT id FROM log_events WHERE trace_id = ?)`, trace, trace); err != nil {
				return fmt.Errorf("deleting relationships of trace %s: %w", trace, err)
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM log_events WHERE trace_id = ?`, trace)
			if err != nil {
				return fmt.Errorf("deleting trace %s: %w", trace, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				stats.TracesReplaced++
			}
		}

		for i := range events {
			if err := insertLogEvent(ctx, tx, &events[i]); err != nil {
				return err
			}
			stats.Events++
		}
		for i := range chain {
			if err := insertRelationship(ctx, tx, &chain[i], s.now()); err != nil {
				return err
			}
			stats.ChainEdges++
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("log events", err)
	}
	return stats, nil
}

func insertLogEvent(ctx context.Context, tx *sql.Tx, e *model.LogEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var duration sql.NullFloat64
	if e.DurationMs != nil {
		duration = sql.NullFloat64{Float64: *e.DurationMs, Valid: true}
	}
	metadata := e.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO log_events (`+logColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.RawTimestamp, e.Service, e.Level, e.TraceID, e.OrderID,
		e.FunctionLabel, e.Message, e.ErrorCode, e.ErrorType, e.Exception, duration, metadata,
		e.Seq, e.FilePath,
	)
	if err != nil {
		return fmt.Errorf("inserting log event of trace %s: %w", e.TraceID, err)
	}
	return nil
}

// LogFilter selects log events. Empty fields match everything.
type LogFilter struct {
	TraceID string
	Service string
	Level   string
	IDs     []string
	Limit   int
}

// LogEvents returns events matching f in chain order: by trace, timestamp
// and sequence.
func (s *Store) LogEvents(ctx context.Context, f LogFilter) ([]model.LogEvent, error) {
	var where []string
	var args []any
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if f.Service != "" {
		where = append(where, "service = ?")
		args = append(args, f.Service)
	}
	if f.Level != "" {
		where = append(where, "UPPER(level) = UPPER(?)")
		args = append(args, f.Level)
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	q := `SELECT ` + logColumns + ` FROM log_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY trace_id, timestamp, seq"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying log events: %w", err)
	}
	defer rows.Close()

	var out []model.LogEvent
	for rows.Next() {
		e, err := scanLogEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// LogEvent returns the event with the given id.
func (s *Store) LogEvent(ctx context.Context, id string) (*model.LogEvent, error) {
	e, err := scanLogEvent(s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM log_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("log event %s: %w", id, ErrNotFound)
	}
	return e, err
}

func scanLogEvent(sc scanner) (*model.LogEvent, error) {
	var e model.LogEvent
	var ts string
	var duration sql.NullFloat64
	if err := sc.Scan(&e.ID, &ts, &e.RawTimestamp, &e.Service, &e.Level, &e.TraceID, &e.OrderID,
		&e.FunctionLabel, &e.Message, &e.ErrorCode, &e.ErrorType, &e.Exception, &duration,
		&e.Metadata, &e.Seq, &e.FilePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning log event: %w", err)
	}
	e.Timestamp = parseTime(ts)
	if duration.Valid {
		d := duration.Float64
		e.DurationMs = &d
	}
	return &e, nil
}

// TraceIDs returns the set of stored trace ids.
func (s *Store) TraceIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT trace_id FROM log_events`)
	if err != nil {
		return nil, fmt.Errorf("listing traces: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning trace id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// TraceRelationships returns the relationships of the given types whose
// target is a log event of the trace, in the trace's event order.
func (s *Store) TraceRelationships(ctx context.Context, traceID string, types []model.RelType) ([]model.Relationship, error) {
	args := []any{traceID}
	q := `SELECT ` + prefixed("r.", relColumns) + `
		FROM relationships r JOIN log_events le ON r.target_id = le.id
		WHERE le.trace_id = ?`
	if len(types) > 0 {
		q += " AND r.type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += " ORDER BY le.timestamp, le.seq, r.source_name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trace relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// TraceSummary describes one stored trace.
type TraceSummary struct {
	TraceID  string    `json:"trace_id"`
	FirstLog time.Time `json:"first_log"`
	LastLog  time.Time `json:"last_log"`
	Events   int       `json:"events"`
}

// Traces lists the stored traces, most recent first.
func (s *Store) Traces(ctx context.Context) ([]TraceSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, MIN(timestamp), MAX(timestamp), COUNT(*)
		 FROM log_events GROUP BY trace_id ORDER BY MIN(timestamp) DESC, trace_id`)
	if err != nil {
		return nil, fmt.Errorf("listing traces: %w", err)
	}
	defer rows.Close()
	var out []TraceSummary
	for rows.Next() {
		var t TraceSummary
		var first, last string
		if err := rows.Scan(&t.TraceID, &first, &last, &t.Events); err != nil {
			return nil, fmt.Errorf("scanning trace: %w", err)
		}
		t.FirstLog = parseTime(first)
		t.LastLog = parseTime(last)
		out = append(out, t)
	}
	return out, rows.Err()
}
