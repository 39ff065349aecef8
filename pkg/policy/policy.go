// Package policy implements the Policy Execution Path shared by all three
// entry points — anonymous webhook, authenticated execute, and Schedule
// Store drain: apply a policy's delta under the Mutation Engine, subject to
// the group's [minEntities, maxEntities] clamp and the dual group/policy
// cooldown check.
package policy

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/pkg/capability"
	"github.com/otterscale/autoscale/pkg/group"
	"github.com/otterscale/autoscale/pkg/store"
)

// Result is the outcome of one execution attempt.
type Result struct {
	// Executed is false when the policy skipped due to cooldown — a no-op,
	// not an error.
	Executed bool
	Desired  int
}

// Executor runs the Policy Execution Path against a Store.
type Executor struct {
	store *store.Store
}

// NewExecutor builds an Executor backed by st.
func NewExecutor(st *store.Store) *Executor {
	return &Executor{store: st}
}

// ExecutePolicy fires policyID directly, bypassing the Capability Index —
// used by the authenticated execute endpoint and the Schedule Store drain.
func (e *Executor) ExecutePolicy(ctx context.Context, tenantID, groupID, policyID uuid.UUID) (Result, error) {
	p, err := e.store.GetPolicy(ctx, tenantID, groupID, policyID)
	if err != nil {
		return Result{}, err
	}
	return e.execute(ctx, tenantID, groupID, p)
}

// ExecuteCapability fires the policy a Capability Index lookup resolved to —
// the anonymous webhook entry point.
func (e *Executor) ExecuteCapability(ctx context.Context, r capability.Resolution) (Result, error) {
	return e.ExecutePolicy(ctx, r.TenantID, r.GroupID, r.PolicyID)
}

func (e *Executor) execute(ctx context.Context, tenantID, groupID uuid.UUID, p store.Policy) (Result, error) {
	cfg, err := e.store.ViewConfig(ctx, tenantID, groupID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = e.store.ModifyState(ctx, tenantID, groupID, func(st *group.State) (*group.State, error) {
		now := st.Now()
		policyKey := p.ID.String()

		groupReady := group.CooldownElapsed(now, st.GroupTouched, cfg.Cooldown)
		policyReady := group.CooldownElapsed(now, st.PolicyTouched[policyKey], p.Cooldown)
		if !groupReady || !policyReady {
			result = Result{Executed: false, Desired: st.Desired}
			return nil, nil
		}

		next := applyDelta(st.Desired, p)
		if next < cfg.MinEntities {
			next = cfg.MinEntities
		}
		if next > cfg.MaxEntities {
			next = cfg.MaxEntities
		}

		st.Desired = next
		st.MarkExecuted(policyKey)
		result = Result{Executed: true, Desired: next}
		return st, nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// applyDelta computes the new desired capacity for exactly one of the three
// mutually exclusive policy deltas; neither clamping nor rounding-mode
// ambiguity is left to the caller.
func applyDelta(current int, p store.Policy) int {
	switch {
	case p.Change != nil:
		return current + *p.Change
	case p.ChangePercent != nil:
		delta := math.Round(float64(current) * *p.ChangePercent / 100)
		return current + int(delta)
	case p.DesiredCapacity != nil:
		return *p.DesiredCapacity
	default:
		return current
	}
}
