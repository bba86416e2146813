package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// Stats summarizes the stored graph.
type Stats struct {
	Nodes         map[model.NodeKind]int `json:"nodes"`
	Services      int                    `json:"services"`
	LogEvents     int                    `json:"log_events"`
	Traces        int                    `json:"traces"`
	ErrorEvents   int                    `json:"error_events"`
	Relationships map[model.RelType]int  `json:"relationships"`
	Workflows     int                    `json:"workflows"`
}

// TotalNodes returns the number of code nodes of every kind.
func (s *Stats) TotalNodes() int {
	n := 0
	for _, c := range s.Nodes {
		n += c
	}
	return n
}

// TotalRelationships returns the number of relationships of every type.
func (s *Stats) TotalRelationships() int {
	n := 0
	for _, c := range s.Relationships {
		n += c
	}
	return n
}

// Stats returns graph verification counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Nodes: make(map[model.NodeKind]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM code_nodes GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning node count: %w", err)
		}
		st.Nodes[model.NodeKind(kind)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Services, `SELECT COUNT(DISTINCT service) FROM code_nodes`},
		{&st.LogEvents, `SELECT COUNT(*) FROM log_events`},
		{&st.Traces, `SELECT COUNT(DISTINCT trace_id) FROM log_events`},
		{&st.ErrorEvents, `SELECT COUNT(*) FROM log_events WHERE UPPER(level) = 'ERROR'`},
		{&st.Workflows, `SELECT COUNT(*) FROM workflow_catalog`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}

	if st.Relationships, err = s.CountByType(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Reset deletes the whole knowledge graph, including the workflow catalog.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"workflow_functions", "workflow_catalog", "relationships", "log_events", "code_nodes"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
	return storageErr("reset", err)
}
