package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otterscale/autoscale/internal/idgen"
	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
)

const policyColumns = `id, group_id, tenant_id, name, policy_type, change, change_percent, desired_capacity,
	cooldown, cron, at, args, created_at, updated_at`

func scanPolicyRow(row pgx.Row) (Policy, error) {
	var p Policy
	var cooldownSecs int
	var argsBytes []byte
	err := row.Scan(
		&p.ID, &p.GroupID, &p.TenantID, &p.Name, &p.Type, &p.Change, &p.ChangePercent, &p.DesiredCapacity,
		&cooldownSecs, &p.Cron, &p.At, &argsBytes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Policy{}, err
	}
	p.Cooldown = secondsToDuration(cooldownSecs)
	if len(argsBytes) > 0 {
		if err := json.Unmarshal(argsBytes, &p.Args); err != nil {
			return Policy{}, fmt.Errorf("unmarshalling policy args: %w", err)
		}
	}
	return p, nil
}

// createPoliciesTx inserts policies within an existing transaction, enforcing MaxPoliciesPerGroup.
func (s *Store) createPoliciesTx(ctx context.Context, tx pgx.Tx, tenantID, groupID uuid.UUID, inputs []PolicyInput, limits QuotaLimits) ([]Policy, error) {
	var existing int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM scaling_policies WHERE group_id = $1`, groupID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("counting policies: %w", err)
	}
	if existing+len(inputs) > limits.MaxPoliciesPerGroup {
		return nil, autoscaleerrors.PoliciesOverLimit{
			Tenant: tenantID.String(), Group: groupID.String(),
			Max: limits.MaxPoliciesPerGroup, Current: existing, New: len(inputs),
		}
	}

	created := make([]Policy, 0, len(inputs))
	for _, in := range inputs {
		argsBytes, err := json.Marshal(in.Args)
		if err != nil {
			return nil, fmt.Errorf("marshalling policy args: %w", err)
		}
		id := idgen.NewID()
		row := tx.QueryRow(ctx, `INSERT INTO scaling_policies
			(id, group_id, tenant_id, name, policy_type, change, change_percent, desired_capacity, cooldown, cron, at, args)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING `+policyColumns,
			id, groupID, tenantID, in.Name, string(in.Type), in.Change, in.ChangePercent, in.DesiredCapacity,
			int(in.Cooldown.Seconds()), in.Cron, in.At, argsBytes,
		)
		p, err := scanPolicyRow(row)
		if err != nil {
			return nil, fmt.Errorf("inserting policy: %w", err)
		}
		created = append(created, p)
	}
	return created, nil
}

// CreatePolicies inserts policies into an existing group, enforcing MaxPoliciesPerGroup.
func (s *Store) CreatePolicies(ctx context.Context, tenantID, groupID uuid.UUID, inputs []PolicyInput) ([]Policy, error) {
	if _, err := s.getGroupRow(ctx, tenantID, groupID, false); err != nil {
		return nil, err
	}
	limits, err := s.limitsFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.createPoliciesTx(ctx, tx, tenantID, groupID, inputs, limits)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

func (s *Store) allPolicies(ctx context.Context, tenantID, groupID uuid.UUID) ([]Policy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM scaling_policies
		WHERE group_id = $1 AND tenant_id = $2 ORDER BY id ASC`, groupID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var items []Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ListPolicies returns an id-ascending page of policies for a group.
func (s *Store) ListPolicies(ctx context.Context, tenantID, groupID, marker uuid.UUID, limit int) (Page[Policy], error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM scaling_policies
		WHERE group_id = $1 AND tenant_id = $2 AND id > $3 ORDER BY id ASC LIMIT $4`,
		groupID, tenantID, marker, limit)
	if err != nil {
		return Page[Policy]{}, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var items []Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return Page[Policy]{}, fmt.Errorf("scanning policy row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return Page[Policy]{}, fmt.Errorf("iterating policy rows: %w", err)
	}

	page := Page[Policy]{Items: items, HasMore: len(items) == limit}
	if len(items) > 0 {
		page.LastID = items[len(items)-1].ID
	}
	return page, nil
}

// GetPolicy returns a single policy, scoped to tenant and group.
func (s *Store) GetPolicy(ctx context.Context, tenantID, groupID, policyID uuid.UUID) (Policy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM scaling_policies
		WHERE id = $1 AND group_id = $2 AND tenant_id = $3`, policyID, groupID, tenantID)
	p, err := scanPolicyRow(row)
	if err == pgx.ErrNoRows {
		return Policy{}, autoscaleerrors.NoSuchPolicy{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String()}
	}
	if err != nil {
		return Policy{}, fmt.Errorf("fetching policy: %w", err)
	}
	return p, nil
}

// UpdatePolicy replaces a policy's editable fields in full.
func (s *Store) UpdatePolicy(ctx context.Context, tenantID, groupID, policyID uuid.UUID, in PolicyInput) (Policy, error) {
	argsBytes, err := json.Marshal(in.Args)
	if err != nil {
		return Policy{}, fmt.Errorf("marshalling policy args: %w", err)
	}
	row := s.pool.QueryRow(ctx, `UPDATE scaling_policies SET
			name = $4, policy_type = $5, change = $6, change_percent = $7, desired_capacity = $8,
			cooldown = $9, cron = $10, at = $11, args = $12, updated_at = now()
		WHERE id = $1 AND group_id = $2 AND tenant_id = $3
		RETURNING `+policyColumns,
		policyID, groupID, tenantID, in.Name, string(in.Type), in.Change, in.ChangePercent, in.DesiredCapacity,
		int(in.Cooldown.Seconds()), in.Cron, in.At, argsBytes,
	)
	p, err := scanPolicyRow(row)
	if err == pgx.ErrNoRows {
		return Policy{}, autoscaleerrors.NoSuchPolicy{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String()}
	}
	if err != nil {
		return Policy{}, fmt.Errorf("updating policy: %w", err)
	}
	return p, nil
}

// DeletePolicy removes a policy; its webhooks and pending scheduled events
// cascade via the foreign keys in migrations/0001_init.up.sql.
func (s *Store) DeletePolicy(ctx context.Context, tenantID, groupID, policyID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scaling_policies WHERE id = $1 AND group_id = $2 AND tenant_id = $3`,
		policyID, groupID, tenantID)
	if err != nil {
		return fmt.Errorf("deleting policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchPolicy{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String()}
	}
	return nil
}
