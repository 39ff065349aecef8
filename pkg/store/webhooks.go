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

const webhookColumns = `id, policy_id, group_id, tenant_id, name, metadata, capability_hash, capability_version, created_at, updated_at`

func scanWebhookRow(row pgx.Row) (Webhook, error) {
	var w Webhook
	var metaBytes []byte
	err := row.Scan(&w.ID, &w.PolicyID, &w.GroupID, &w.TenantID, &w.Name, &metaBytes,
		&w.Capability.Hash, &w.Capability.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Webhook{}, err
	}
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &w.Metadata); err != nil {
			return Webhook{}, fmt.Errorf("unmarshalling webhook metadata: %w", err)
		}
	}
	return w, nil
}

// CreateWebhooks inserts webhooks for an existing policy, enforcing MaxWebhooksPerPolicy.
// Each webhook is minted a fresh capability hash (internal/idgen), unique across
// all non-deleted webhooks by construction (uniqueness enforced at the DB too).
func (s *Store) CreateWebhooks(ctx context.Context, tenantID, groupID, policyID uuid.UUID, inputs []WebhookInput) ([]Webhook, error) {
	if _, err := s.GetPolicy(ctx, tenantID, groupID, policyID); err != nil {
		return nil, err
	}
	limits, err := s.limitsFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var existing int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_webhooks WHERE policy_id = $1`, policyID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("counting webhooks: %w", err)
	}
	if existing+len(inputs) > limits.MaxWebhooksPerPolicy {
		return nil, autoscaleerrors.WebhooksOverLimit{
			Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String(),
			Max: limits.MaxWebhooksPerPolicy, Current: existing, New: len(inputs),
		}
	}

	created := make([]Webhook, 0, len(inputs))
	for _, in := range inputs {
		hash, err := idgen.NewCapabilityHash()
		if err != nil {
			return nil, err
		}
		metaBytes, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshalling webhook metadata: %w", err)
		}
		id := idgen.NewID()
		row := s.pool.QueryRow(ctx, `INSERT INTO scaling_webhooks
			(id, policy_id, group_id, tenant_id, name, metadata, capability_hash, capability_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+webhookColumns,
			id, policyID, groupID, tenantID, in.Name, metaBytes, hash, s.capabilityVersion,
		)
		w, err := scanWebhookRow(row)
		if err != nil {
			return nil, fmt.Errorf("inserting webhook: %w", err)
		}
		created = append(created, w)
	}
	return created, nil
}

func (s *Store) allWebhooks(ctx context.Context, tenantID, groupID, policyID uuid.UUID) ([]Webhook, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM scaling_webhooks
		WHERE policy_id = $1 AND group_id = $2 AND tenant_id = $3 ORDER BY id ASC`, policyID, groupID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var items []Webhook
	for rows.Next() {
		w, err := scanWebhookRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// ListWebhooks returns an id-ascending page of webhooks for a policy.
func (s *Store) ListWebhooks(ctx context.Context, tenantID, groupID, policyID, marker uuid.UUID, limit int) (Page[Webhook], error) {
	rows, err := s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM scaling_webhooks
		WHERE policy_id = $1 AND group_id = $2 AND tenant_id = $3 AND id > $4 ORDER BY id ASC LIMIT $5`,
		policyID, groupID, tenantID, marker, limit)
	if err != nil {
		return Page[Webhook]{}, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var items []Webhook
	for rows.Next() {
		w, err := scanWebhookRow(rows)
		if err != nil {
			return Page[Webhook]{}, fmt.Errorf("scanning webhook row: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return Page[Webhook]{}, fmt.Errorf("iterating webhook rows: %w", err)
	}

	page := Page[Webhook]{Items: items, HasMore: len(items) == limit}
	if len(items) > 0 {
		page.LastID = items[len(items)-1].ID
	}
	return page, nil
}

// GetWebhook returns a single webhook, scoped to tenant/group/policy.
func (s *Store) GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID uuid.UUID) (Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM scaling_webhooks
		WHERE id = $1 AND policy_id = $2 AND group_id = $3 AND tenant_id = $4`, webhookID, policyID, groupID, tenantID)
	w, err := scanWebhookRow(row)
	if err == pgx.ErrNoRows {
		return Webhook{}, autoscaleerrors.NoSuchWebhook{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String(), Webhook: webhookID.String()}
	}
	if err != nil {
		return Webhook{}, fmt.Errorf("fetching webhook: %w", err)
	}
	return w, nil
}

// UpdateWebhook replaces a webhook's name and metadata; its capability hash never changes.
func (s *Store) UpdateWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID uuid.UUID, in WebhookInput) (Webhook, error) {
	metaBytes, err := json.Marshal(in.Metadata)
	if err != nil {
		return Webhook{}, fmt.Errorf("marshalling webhook metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `UPDATE scaling_webhooks SET name = $5, metadata = $6, updated_at = now()
		WHERE id = $1 AND policy_id = $2 AND group_id = $3 AND tenant_id = $4
		RETURNING `+webhookColumns,
		webhookID, policyID, groupID, tenantID, in.Name, metaBytes,
	)
	w, err := scanWebhookRow(row)
	if err == pgx.ErrNoRows {
		return Webhook{}, autoscaleerrors.NoSuchWebhook{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String(), Webhook: webhookID.String()}
	}
	if err != nil {
		return Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	return w, nil
}

// DeleteWebhook removes a webhook; its capability hash becomes UnrecognizedCapability immediately.
func (s *Store) DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scaling_webhooks WHERE id = $1 AND policy_id = $2 AND group_id = $3 AND tenant_id = $4`,
		webhookID, policyID, groupID, tenantID)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchWebhook{Tenant: tenantID.String(), Group: groupID.String(), Policy: policyID.String(), Webhook: webhookID.String()}
	}
	return nil
}
