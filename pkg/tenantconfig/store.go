package tenantconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// row is the tenant_quota_overrides table shape.
type row struct {
	Overrides
	UpdatedAt time.Time
}

// Store persists per-tenant quota overrides in the flat tenant_quota_overrides table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the override row for tenantID, or a zero row (all nils) if
// the tenant has no overrides on file — that is not an error.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (row, error) {
	query := `SELECT max_groups, max_policies_per_group, max_webhooks_per_policy, pagination_default, updated_at
		FROM tenant_quota_overrides WHERE tenant_id = $1`

	var r row
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&r.MaxGroups, &r.MaxPoliciesPerGroup, &r.MaxWebhooksPerPolicy, &r.PaginationDefault, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return row{}, nil
	}
	if err != nil {
		return row{}, fmt.Errorf("fetching tenant quota overrides: %w", err)
	}
	return r, nil
}

// Upsert replaces the override row for tenantID.
func (s *Store) Upsert(ctx context.Context, tenantID uuid.UUID, o Overrides) (row, error) {
	query := `INSERT INTO tenant_quota_overrides (tenant_id, max_groups, max_policies_per_group, max_webhooks_per_policy, pagination_default, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			max_groups = EXCLUDED.max_groups,
			max_policies_per_group = EXCLUDED.max_policies_per_group,
			max_webhooks_per_policy = EXCLUDED.max_webhooks_per_policy,
			pagination_default = EXCLUDED.pagination_default,
			updated_at = now()
		RETURNING max_groups, max_policies_per_group, max_webhooks_per_policy, pagination_default, updated_at`

	var r row
	err := s.pool.QueryRow(ctx, query,
		tenantID, o.MaxGroups, o.MaxPoliciesPerGroup, o.MaxWebhooksPerPolicy, o.PaginationDefault,
	).Scan(&r.MaxGroups, &r.MaxPoliciesPerGroup, &r.MaxWebhooksPerPolicy, &r.PaginationDefault, &r.UpdatedAt)
	if err != nil {
		return row{}, fmt.Errorf("upserting tenant quota overrides: %w", err)
	}
	return r, nil
}
