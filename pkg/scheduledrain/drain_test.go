package scheduledrain_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/testpg"
	"github.com/otterscale/autoscale/pkg/lock"
	"github.com/otterscale/autoscale/pkg/policy"
	"github.com/otterscale/autoscale/pkg/schedule"
	"github.com/otterscale/autoscale/pkg/scheduledrain"
	"github.com/otterscale/autoscale/pkg/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func intPtr(v int) *int { return &v }

func TestTick_FiresOneShotEventAndConsumesIt(t *testing.T) {
	pool := testpg.Pool(t)
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limits := store.QuotaLimits{MaxGroups: 10, MaxPoliciesPerGroup: 10, MaxWebhooksPerPolicy: 10, Pagination: 50}
	st := store.NewStore(pool, lock.NewInProcessLock(), clk, limits, nil, 5*time.Second, 1)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 10}, nil, []store.PolicyInput{
		{Name: "scheduled-bump", Type: store.PolicySchedule, Change: intPtr(3)},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	sched := schedule.NewStore(pool, 4, clk)
	due := clk.Now().Add(-time.Minute)
	if _, err := sched.AddEvents(ctx, []schedule.EventInput{
		{TenantID: tenantID, GroupID: m.GroupID, PolicyID: m.Policies[0].ID, TriggerTime: due},
	}, 1); err != nil {
		t.Fatalf("AddEvents() error = %v", err)
	}

	ex := policy.NewExecutor(st)
	w := scheduledrain.NewWorker(sched, ex, clk, discardLogger(), 4, time.Minute, 10, nil)
	w.Tick(ctx)

	got, err := st.ViewManifest(ctx, tenantID, m.GroupID, false, false, false)
	if err != nil {
		t.Fatalf("ViewManifest() error = %v", err)
	}
	if got.State.Desired != 3 {
		t.Errorf("Desired = %d, want 3", got.State.Desired)
	}

	ev, err := sched.GetOldestEvent(ctx, sched.BucketFor(m.Policies[0].ID))
	if err != nil {
		t.Fatalf("GetOldestEvent() error = %v", err)
	}
	if ev != nil {
		t.Errorf("expected the one-shot event to be consumed, found %+v", ev)
	}
}

func TestTick_RescheduleCronEventAfterFire(t *testing.T) {
	pool := testpg.Pool(t)
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limits := store.QuotaLimits{MaxGroups: 10, MaxPoliciesPerGroup: 10, MaxWebhooksPerPolicy: 10, Pagination: 50}
	st := store.NewStore(pool, lock.NewInProcessLock(), clk, limits, nil, 5*time.Second, 1)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 0, MaxEntities: 10}, nil, []store.PolicyInput{
		{Name: "cron-bump", Type: store.PolicySchedule, Change: intPtr(1)},
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	sched := schedule.NewStore(pool, 4, clk)
	cron := "*/5 * * * *"
	bucket := sched.BucketFor(m.Policies[0].ID)
	if _, err := sched.AddEvents(ctx, []schedule.EventInput{
		{TenantID: tenantID, GroupID: m.GroupID, PolicyID: m.Policies[0].ID, Cron: &cron, Bucket: &bucket},
	}, 1); err != nil {
		t.Fatalf("AddEvents() error = %v", err)
	}
	// AddEvents computed the first occurrence from clk.Now(); advance past it
	// so the drain worker's FetchAndDelete treats it as due.
	clk.Advance(10 * time.Minute)

	ex := policy.NewExecutor(st)
	w := scheduledrain.NewWorker(sched, ex, clk, discardLogger(), 4, time.Minute, 10, nil)
	w.Tick(ctx)

	ev, err := sched.GetOldestEvent(ctx, bucket)
	if err != nil {
		t.Fatalf("GetOldestEvent() error = %v", err)
	}
	if ev == nil {
		t.Fatal("expected the cron event to be rescheduled, found none")
	}
	if ev.Cron == nil || *ev.Cron != cron {
		t.Errorf("rescheduled event cron = %v, want %q", ev.Cron, cron)
	}
	if !ev.TriggerTime.After(clk.Now()) {
		t.Errorf("rescheduled trigger_time = %v, want after %v", ev.TriggerTime, clk.Now())
	}
}
