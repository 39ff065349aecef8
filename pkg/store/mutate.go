package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/group"
)

// lockTTL bounds how long a single ModifyState call may hold a group's lock
// before a Redis-backed lock would expire out from under it; buildTimeout
// bounds the whole call including lock acquisition.
const lockTTL = 30 * time.Second

// ModifyState is the Mutation Engine: it serializes every read-modify-write
// of a group's runtime state behind the group's lock, runs f against the
// freshly loaded state, and persists the result atomically. If f returns an
// error, nothing is persisted. A DELETING group is rejected before f runs.
func (s *Store) ModifyState(ctx context.Context, tenantID, groupID uuid.UUID, f func(*group.State) (*group.State, error)) error {
	if s.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.buildTimeout)
		defer cancel()
	}

	key := fmt.Sprintf("group:%s:%s", tenantID, groupID)
	release, err := s.locker.Acquire(ctx, key, lockTTL)
	if err != nil {
		return err
	}
	defer release(ctx)

	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return err
	}
	st, err := g.toState(s.clk)
	if err != nil {
		return err
	}

	next, err := f(st)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	return s.persistState(ctx, tenantID, groupID, next)
}

func (s *Store) persistState(ctx context.Context, tenantID, groupID uuid.UUID, st *group.State) error {
	activeBytes, err := json.Marshal(st.Active)
	if err != nil {
		return fmt.Errorf("marshalling active servers: %w", err)
	}
	pendingBytes, err := json.Marshal(st.Pending)
	if err != nil {
		return fmt.Errorf("marshalling pending jobs: %w", err)
	}
	policyTouchedBytes, err := json.Marshal(st.PolicyTouched)
	if err != nil {
		return fmt.Errorf("marshalling policy_touched: %w", err)
	}
	reasonsBytes, err := json.Marshal(st.ErrorReasons)
	if err != nil {
		return fmt.Errorf("marshalling error reasons: %w", err)
	}

	var groupTouched *time.Time
	if !st.GroupTouched.IsZero() {
		t := st.GroupTouched
		groupTouched = &t
	}

	tag, err := s.pool.Exec(ctx, `UPDATE scaling_groups SET
			desired = $3, active = $4, pending = $5, group_touched = $6, policy_touched = $7,
			paused = $8, suspended = $9, status = $10, error_reasons = $11, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status != 'DELETING'`,
		groupID, tenantID, st.Desired, activeBytes, pendingBytes, groupTouched, policyTouchedBytes,
		st.Paused, st.Suspended, string(st.Status), reasonsBytes,
	)
	if err != nil {
		return fmt.Errorf("persisting group state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return nil
}
