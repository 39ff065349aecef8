// Package capability implements the Capability Index: resolving a webhook's
// unguessable bearer hash to the (tenant, group, policy) it authorizes
// execution on. It is a thin read path over the same scaling_webhooks table
// pkg/store owns — a hash lookup never needs the group's lock, only the
// Mutation Engine call that follows it does.
package capability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
)

// Resolution is the (tenant, group, policy) a capability hash authorizes.
type Resolution struct {
	TenantID uuid.UUID
	GroupID  uuid.UUID
	PolicyID uuid.UUID
}

// Index is the Capability Index.
type Index struct {
	pool *pgxpool.Pool
}

// NewIndex builds an Index backed by pool.
func NewIndex(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Lookup resolves hash to the tenant/group/policy that owns the webhook
// minted with that capability, or UnrecognizedCapability if the hash belongs
// to no current webhook — including a webhook whose policy has since been
// deleted, since the webhook row cascades away with it. A webhook of a group
// that is only marked DELETING still resolves here; the policy execution that
// follows rejects that group with NoSuchGroup.
func (idx *Index) Lookup(ctx context.Context, hash string) (Resolution, error) {
	var r Resolution
	var version int
	err := idx.pool.QueryRow(ctx, `SELECT tenant_id, group_id, policy_id, capability_version
		FROM scaling_webhooks WHERE capability_hash = $1`, hash).Scan(&r.TenantID, &r.GroupID, &r.PolicyID, &version)
	if err == pgx.ErrNoRows {
		return Resolution{}, autoscaleerrors.UnrecognizedCapability{Hash: hash, Version: version}
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("looking up capability hash: %w", err)
	}
	return r, nil
}
