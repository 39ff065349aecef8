package converge_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/testpg"
	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/converge"
	"github.com/otterscale/autoscale/pkg/group"
	"github.com/otterscale/autoscale/pkg/lock"
	"github.com/otterscale/autoscale/pkg/store"
)

type fakeConverger struct {
	reasons []autoscaleerrors.ErrorReason
	err     error
	mutate  func(st *group.State)
}

func (f fakeConverger) Converge(_ context.Context, _, _ uuid.UUID, st *group.State) (*group.State, []autoscaleerrors.ErrorReason, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.mutate != nil {
		f.mutate(st)
	}
	return st, f.reasons, nil
}

func newTestStore(t *testing.T) *store.Store {
	pool := testpg.Pool(t)
	limits := store.QuotaLimits{MaxGroups: 10, MaxPoliciesPerGroup: 10, MaxWebhooksPerPolicy: 10, Pagination: 50}
	return store.NewStore(pool, lock.NewInProcessLock(), clock.NewFrozen(time.Now()), limits, nil, 5*time.Second, 1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatcher_SetsErrorOnPresentedReasons(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 1, MaxEntities: 5}, nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	conv := fakeConverger{reasons: []autoscaleerrors.ErrorReason{{Exception: autoscaleerrors.NoSuchLoadBalancer{LBID: "lb-1"}}}}
	d := converge.NewDispatcher(st, conv, nil, discardLogger(), time.Hour, 10, nil, nil)

	if err := d.Tick(ctx); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	got, err := st.ViewManifest(ctx, tenantID, m.GroupID, false, false, false)
	if err != nil {
		t.Fatalf("ViewManifest() error = %v", err)
	}
	if got.State.Status != group.StatusError {
		t.Fatalf("status = %s, want ERROR", got.State.Status)
	}
	if len(got.State.ErrorReasons) != 1 || got.State.ErrorReasons[0] == "" {
		t.Errorf("error reasons = %v, want one presented reason", got.State.ErrorReasons)
	}
}

func TestDispatcher_ClearsErrorOnCleanPass(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 1, MaxEntities: 5}, nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := st.ModifyState(ctx, tenantID, m.GroupID, func(s *group.State) (*group.State, error) {
		s.SetError([]string{"previously broken"})
		return s, nil
	}); err != nil {
		t.Fatalf("ModifyState() seeding error = %v", err)
	}

	conv := fakeConverger{}
	d := converge.NewDispatcher(st, conv, nil, discardLogger(), time.Hour, 10, nil, nil)
	if err := d.Tick(ctx); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	got, err := st.ViewManifest(ctx, tenantID, m.GroupID, false, false, false)
	if err != nil {
		t.Fatalf("ViewManifest() error = %v", err)
	}
	if got.State.Status != group.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", got.State.Status)
	}
	if len(got.State.ErrorReasons) != 0 {
		t.Errorf("error reasons = %v, want none", got.State.ErrorReasons)
	}
}

func TestDispatcher_SkipsPausedAndSuspendedGroups(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 1, MaxEntities: 5}, nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := st.ModifyState(ctx, tenantID, m.GroupID, func(s *group.State) (*group.State, error) {
		s.Paused = true
		return s, nil
	}); err != nil {
		t.Fatalf("ModifyState() pausing = %v", err)
	}

	suspended, err := st.CreateGroup(ctx, tenantID, "suspended-fleet", store.GroupConfig{MinEntities: 1, MaxEntities: 5}, nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup() (suspended) error = %v", err)
	}
	if err := st.ModifyState(ctx, tenantID, suspended.GroupID, func(s *group.State) (*group.State, error) {
		s.Suspended = true
		return s, nil
	}); err != nil {
		t.Fatalf("ModifyState() suspending = %v", err)
	}

	var called bool
	conv := fakeConverger{mutate: func(*group.State) { called = true }}
	d := converge.NewDispatcher(st, conv, nil, discardLogger(), time.Hour, 10, nil, nil)
	if err := d.Tick(ctx); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if called {
		t.Error("Converger was invoked for a paused or suspended group, want skipped")
	}
}

func TestDispatcher_DoesNotPersistOnConvergeError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m, err := st.CreateGroup(ctx, tenantID, "fleet", store.GroupConfig{MinEntities: 1, MaxEntities: 5}, nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	conv := fakeConverger{err: assertError("collaborator down")}
	d := converge.NewDispatcher(st, conv, nil, discardLogger(), time.Hour, 10, nil, nil)
	if err := d.Tick(ctx); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	got, err := st.ViewManifest(ctx, tenantID, m.GroupID, false, false, false)
	if err != nil {
		t.Fatalf("ViewManifest() error = %v", err)
	}
	if got.State.Status != group.StatusActive {
		t.Fatalf("status = %s, want unchanged ACTIVE", got.State.Status)
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
