package group

import (
	"testing"
	"time"

	"github.com/otterscale/autoscale/internal/clock"
)

func newTestState() *State {
	return New("t1", "g1", "web-tier", 0, clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNew_GroupTouchedSentinel(t *testing.T) {
	s := newTestState()
	if got := clock.FormatRFC3339(s.GroupTouched); got != clock.Sentinel {
		t.Errorf("GroupTouched formatted = %q, want sentinel %q", got, clock.Sentinel)
	}
}

func TestAddRemoveJob_Disjoint(t *testing.T) {
	s := newTestState()

	if err := s.AddJob("job-1"); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddJob("job-1"); err == nil {
		t.Error("AddJob() duplicate should error")
	}
	if err := s.RemoveJob("job-1"); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	if err := s.RemoveJob("job-1"); err == nil {
		t.Error("RemoveJob() of missing job should error")
	}
}

func TestAddActive_RejectsStillPending(t *testing.T) {
	s := newTestState()
	if err := s.AddJob("srv-1"); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddActive("srv-1", nil); err == nil {
		t.Error("AddActive() should reject an id that is still pending")
	}
}

func TestAddRemoveActive(t *testing.T) {
	s := newTestState()
	if err := s.AddActive("srv-1", nil); err != nil {
		t.Fatalf("AddActive() error = %v", err)
	}
	if err := s.AddActive("srv-1", nil); err == nil {
		t.Error("AddActive() duplicate should error")
	}
	if err := s.RemoveActive("srv-1"); err != nil {
		t.Fatalf("RemoveActive() error = %v", err)
	}
	if err := s.RemoveActive("srv-1"); err == nil {
		t.Error("RemoveActive() of missing server should error")
	}
}

func TestMarkExecuted_SameInstant(t *testing.T) {
	s := newTestState()
	s.MarkExecuted("policy-1")

	if s.GroupTouched.IsZero() {
		t.Fatal("GroupTouched should be set")
	}
	if !s.PolicyTouched["policy-1"].Equal(s.GroupTouched) {
		t.Errorf("PolicyTouched[p] = %v, want equal to GroupTouched %v", s.PolicyTouched["policy-1"], s.GroupTouched)
	}
}

func TestGetCapacity(t *testing.T) {
	s := newTestState()
	_ = s.AddActive("srv-1", nil)
	_ = s.AddActive("srv-2", nil)
	_ = s.AddJob("job-1")

	cap := s.GetCapacity()
	if cap.Current != 2 {
		t.Errorf("Current = %d, want 2", cap.Current)
	}
	if cap.Pending != 1 {
		t.Errorf("Pending = %d, want 1", cap.Pending)
	}
	if cap.Desired != 3 {
		t.Errorf("Desired = %d, want 3", cap.Desired)
	}
}

func TestSetAndClearError(t *testing.T) {
	s := newTestState()
	s.SetError([]string{"Cloud Load Balancer does not exist: 42"})
	if s.Status != StatusError {
		t.Errorf("Status = %q, want ERROR", s.Status)
	}
	if len(s.ErrorReasons) != 1 {
		t.Fatalf("ErrorReasons = %v, want 1 entry", s.ErrorReasons)
	}

	s.ClearError()
	if s.Status != StatusActive {
		t.Errorf("Status = %q, want ACTIVE", s.Status)
	}
	if s.ErrorReasons != nil {
		t.Errorf("ErrorReasons = %v, want nil", s.ErrorReasons)
	}
}

func TestDeletable(t *testing.T) {
	s := newTestState()
	if !s.Deletable() {
		t.Error("empty group should be deletable")
	}
	_ = s.AddActive("srv-1", nil)
	if s.Deletable() {
		t.Error("group with an active server should not be deletable")
	}
}

func TestCooldownElapsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	if !CooldownElapsed(now, time.Time{}, time.Minute) {
		t.Error("never-touched cooldown should always be elapsed")
	}
	if CooldownElapsed(now, now.Add(-30*time.Second), time.Minute) {
		t.Error("cooldown should not have elapsed after 30s with a 1m cooldown")
	}
	if !CooldownElapsed(now, now.Add(-90*time.Second), time.Minute) {
		t.Error("cooldown should have elapsed after 90s with a 1m cooldown")
	}
}
