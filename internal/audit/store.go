package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

const entryColumns = `id, timestamp, actor, action, target, summary, detail, services`

// Store provides persistence for audit entries.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Log inserts a new audit entry. An empty ID is replaced by a UUID and a
// zero Timestamp by the current time.
func (s *Store) Log(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Services == nil {
		entry.Services = []string{}
	}
	services, err := json.Marshal(entry.Services)
	if err != nil {
		return nil, fmt.Errorf("marshalling services: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.Format(timeLayout),
		entry.Actor,
		string(entry.Action),
		entry.Target,
		entry.Summary,
		entry.Detail,
		string(services),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting audit entry: %w", err)
	}
	return &entry, nil
}

// Record logs action with report marshalled as its detail.
func (s *Store) Record(ctx context.Context, actor string, action Action, target, summary string, services []string, report any) (*Entry, error) {
	entry := Entry{Actor: actor, Action: action, Target: target, Summary: summary, Services: services}
	if report != nil {
		detail, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s report: %w", action, err)
		}
		entry.Detail = string(detail)
	}
	return s.Log(ctx, entry)
}

// GetByID retrieves a single audit entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit entry %s: %w", id, graph.ErrNotFound)
	}
	return e, err
}

// QueryFilter controls which audit entries are returned by Query.
type QueryFilter struct {
	Action  Action
	Service string
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// Query returns audit entries matching the filter, most recent first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}
	if filter.Service != "" {
		// JSON array stored as text; match the quoted element.
		clauses = append(clauses, "services LIKE ?")
		args = append(args, `%"`+filter.Service+`"%`)
	}

	query := "SELECT " + entryColumns + " FROM audit_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all audit entries older than the given time.
// Returns the number of deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE timestamp < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(sc interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e            Entry
		action       string
		ts           string
		servicesJSON string
	)

	err := sc.Scan(&e.ID, &ts, &e.Actor, &action, &e.Target, &e.Summary, &e.Detail, &servicesJSON)
	if err != nil {
		return nil, err
	}

	e.Action = Action(action)
	if t, parseErr := time.Parse(timeLayout, ts); parseErr == nil {
		e.Timestamp = t
	}
	if err := json.Unmarshal([]byte(servicesJSON), &e.Services); err != nil {
		e.Services = nil
	}

	return &e, nil
}
