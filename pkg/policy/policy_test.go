package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/testpg"
	"github.com/otterscale/autoscale/pkg/capability"
	"github.com/otterscale/autoscale/pkg/lock"
	"github.com/otterscale/autoscale/pkg/policy"
	"github.com/otterscale/autoscale/pkg/store"
)

func intPtr(v int) *int            { return &v }
func floatPtr(v float64) *float64 { return &v }

func newTestStore(t *testing.T, clk *clock.Frozen) *store.Store {
	pool := testpg.Pool(t)
	limits := store.QuotaLimits{MaxGroups: 10, MaxPoliciesPerGroup: 10, MaxWebhooksPerPolicy: 10, Pagination: 50}
	return store.NewStore(pool, lock.NewInProcessLock(), clk, limits, nil, 5*time.Second, 1)
}

func TestExecutePolicy_AppliesChangeAndClamps(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := newTestStore(t, clk)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 3}, nil, []store.PolicyInput{
		{Name: "scale-up", Type: store.PolicyWebhook, Change: intPtr(5)},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	ex := policy.NewExecutor(st)
	res, err := ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[0].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() error = %v", err)
	}
	if !res.Executed {
		t.Fatal("ExecutePolicy() Executed = false, want true")
	}
	if res.Desired != 3 {
		t.Errorf("Desired = %d, want 3 (clamped to maxEntities)", res.Desired)
	}
}

func TestExecutePolicy_ChangePercentRoundsAndDesiredCapacitySetsDirectly(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := newTestStore(t, clk)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 100}, nil, []store.PolicyInput{
		{Name: "percent", Type: store.PolicyWebhook, ChangePercent: floatPtr(50)},
		{Name: "absolute", Type: store.PolicyWebhook, DesiredCapacity: intPtr(7)},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	ex := policy.NewExecutor(st)

	// desired starts at minEntities = 0; a 50% increase of 0 stays 0.
	res, err := ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[0].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() error = %v", err)
	}
	if res.Desired != 0 {
		t.Errorf("Desired after changePercent on 0 = %d, want 0", res.Desired)
	}

	res, err = ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[1].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() error = %v", err)
	}
	if res.Desired != 7 {
		t.Errorf("Desired after desiredCapacity = %d, want 7", res.Desired)
	}
}

func TestExecutePolicy_CooldownSkipIsNoOp(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := newTestStore(t, clk)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 100, Cooldown: time.Minute}, nil, []store.PolicyInput{
		{Name: "scale-up", Type: store.PolicyWebhook, Change: intPtr(1), Cooldown: time.Minute},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	ex := policy.NewExecutor(st)
	first, err := ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[0].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() (first) error = %v", err)
	}
	if !first.Executed || first.Desired != 1 {
		t.Fatalf("first ExecutePolicy() = %+v, want Executed=true Desired=1", first)
	}

	clk.Advance(10 * time.Second)
	second, err := ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[0].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() (second) error = %v", err)
	}
	if second.Executed {
		t.Fatal("second ExecutePolicy() Executed = true, want no-op within cooldown")
	}
	if second.Desired != 1 {
		t.Errorf("Desired after cooldown skip = %d, want unchanged 1", second.Desired)
	}

	clk.Advance(time.Minute)
	third, err := ex.ExecutePolicy(ctx, tenantID, m.GroupID, m.Policies[0].ID)
	if err != nil {
		t.Fatalf("ExecutePolicy() (third) error = %v", err)
	}
	if !third.Executed || third.Desired != 2 {
		t.Fatalf("third ExecutePolicy() = %+v, want Executed=true Desired=2", third)
	}
}

func TestExecuteCapability_ResolvesThroughCapabilityIndex(t *testing.T) {
	pool := testpg.Pool(t)
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limits := store.QuotaLimits{MaxGroups: 10, MaxPoliciesPerGroup: 10, MaxWebhooksPerPolicy: 10, Pagination: 50}
	st := store.NewStore(pool, lock.NewInProcessLock(), clk, limits, nil, 5*time.Second, 1)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 100}, nil, []store.PolicyInput{
		{Name: "scale-up", Type: store.PolicyWebhook, Change: intPtr(2)},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	webhooks, err := st.CreateWebhooks(ctx, tenantID, m.GroupID, m.Policies[0].ID, []store.WebhookInput{{Name: "primary"}})
	if err != nil {
		t.Fatalf("CreateWebhooks() error = %v", err)
	}

	idx := capability.NewIndex(pool)
	resolved, err := idx.Lookup(ctx, webhooks[0].Capability.Hash)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	ex := policy.NewExecutor(st)
	res, err := ex.ExecuteCapability(ctx, resolved)
	if err != nil {
		t.Fatalf("ExecuteCapability() error = %v", err)
	}
	if !res.Executed || res.Desired != 2 {
		t.Fatalf("ExecuteCapability() = %+v, want Executed=true Desired=2", res)
	}
}
