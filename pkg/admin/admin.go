// Package admin exposes deployment-wide aggregate counts — total scaling
// groups, policies, and webhooks, broken down by group status — to
// operators, gated behind the same admin-role bearer auth as
// pkg/tenantconfig.
package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Counts is the deployment-wide snapshot returned by GET /admin/stats.
type Counts struct {
	GroupsActive    int64 `json:"groups_active"`
	GroupsError     int64 `json:"groups_error"`
	GroupsDeleting  int64 `json:"groups_deleting"`
	Policies        int64 `json:"policies"`
	Webhooks        int64 `json:"webhooks"`
	ScheduledEvents int64 `json:"scheduled_events"`
}

// Store reads the aggregate counts directly off the control-plane tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Counts computes the current deployment-wide snapshot. It runs a handful
// of single-table counts rather than one query, trading a few extra
// round-trips for simplicity; this endpoint is polled at operator scale,
// not request-path scale.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows := []struct {
		dst   *int64
		query string
	}{
		{&c.GroupsActive, `SELECT count(*) FROM scaling_groups WHERE status = 'ACTIVE'`},
		{&c.GroupsError, `SELECT count(*) FROM scaling_groups WHERE status = 'ERROR'`},
		{&c.GroupsDeleting, `SELECT count(*) FROM scaling_groups WHERE status = 'DELETING'`},
		{&c.Policies, `SELECT count(*) FROM scaling_policies`},
		{&c.Webhooks, `SELECT count(*) FROM scaling_webhooks`},
		{&c.ScheduledEvents, `SELECT count(*) FROM scheduled_events`},
	}
	for _, row := range rows {
		if err := s.pool.QueryRow(ctx, row.query).Scan(row.dst); err != nil {
			return Counts{}, fmt.Errorf("counting admin stats: %w", err)
		}
	}
	return c, nil
}
