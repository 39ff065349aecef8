// Package group defines GroupState, the in-memory value type capturing a
// scaling group's mutable runtime state, and the mutator methods the
// Mutation Engine invokes under the group's lock.
package group

import (
	"fmt"
	"time"

	"github.com/otterscale/autoscale/internal/clock"
)

// Status is a scaling group's lifecycle status.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusError    Status = "ERROR"
	StatusDeleting Status = "DELETING"
)

// ActiveServer is the opaque per-server bookkeeping kept for an in-service
// fleet member; additional fields beyond Created are deliberately opaque to
// this package — convergence attaches whatever it needs.
type ActiveServer struct {
	Created time.Time
	Extra   map[string]any
}

// PendingJob is the bookkeeping kept for an in-flight server launch.
type PendingJob struct {
	Created time.Time
}

// Capacity is the snapshot returned by GetCapacity. Field names are chosen
// for Go clarity but the JSON tags match the wire contract literally: the
// "desired" key here is the in-flight total (active+pending), NOT the State's
// Desired target field — those are deliberately different numbers (see §3).
type Capacity struct {
	Current int `json:"current"`
	Pending int `json:"pending"`
	Desired int `json:"desired"`
}

// State is the mutable runtime state of one scaling group. It is mutated
// only through its methods, which enforce the disjointness and sentinel
// invariants; the Mutation Engine is responsible for serializing access
// across goroutines/processes via the per-group lock.
type State struct {
	TenantID  string
	GroupID   string
	GroupName string

	Active  map[string]ActiveServer
	Pending map[string]PendingJob

	GroupTouched  time.Time
	PolicyTouched map[string]time.Time

	Paused    bool
	Suspended bool

	Status       Status
	ErrorReasons []string

	Desired int

	clk clock.Clock
}

// New creates a freshly initialized State. GroupTouched starts at the Go
// zero time, which renders as the "0001-01-01T00:00:00Z" sentinel on the wire.
func New(tenantID, groupID, groupName string, desired int, clk clock.Clock) *State {
	if clk == nil {
		clk = clock.System{}
	}
	return &State{
		TenantID:      tenantID,
		GroupID:       groupID,
		GroupName:     groupName,
		Active:        make(map[string]ActiveServer),
		Pending:       make(map[string]PendingJob),
		PolicyTouched: make(map[string]time.Time),
		Status:        StatusActive,
		Desired:       desired,
		clk:           clk,
	}
}

// AddJob records a new pending server launch. It is an error to add a job
// id that is already pending or already active — the pending/active
// keyspaces must stay disjoint.
func (s *State) AddJob(jobID string) error {
	if _, ok := s.Pending[jobID]; ok {
		return fmt.Errorf("group: job %q is already pending", jobID)
	}
	if _, ok := s.Active[jobID]; ok {
		return fmt.Errorf("group: job %q is already active", jobID)
	}
	s.Pending[jobID] = PendingJob{Created: s.clk.Now()}
	return nil
}

// RemoveJob removes a pending job, e.g. because its launch completed or
// failed. It is an error to remove a job id that is not pending.
func (s *State) RemoveJob(jobID string) error {
	if _, ok := s.Pending[jobID]; !ok {
		return fmt.Errorf("group: job %q is not pending", jobID)
	}
	delete(s.Pending, jobID)
	return nil
}

// AddActive records a server as active. It is an error to add a server id
// that is already active or still pending — callers must RemoveJob first
// when promoting a completed launch.
func (s *State) AddActive(serverID string, extra map[string]any) error {
	if _, ok := s.Active[serverID]; ok {
		return fmt.Errorf("group: server %q is already active", serverID)
	}
	if _, ok := s.Pending[serverID]; ok {
		return fmt.Errorf("group: server %q is still pending", serverID)
	}
	s.Active[serverID] = ActiveServer{Created: s.clk.Now(), Extra: extra}
	return nil
}

// RemoveActive removes a server from the active set, e.g. because it was
// terminated. It is an error to remove a server id that is not active.
func (s *State) RemoveActive(serverID string) error {
	if _, ok := s.Active[serverID]; !ok {
		return fmt.Errorf("group: server %q is not active", serverID)
	}
	delete(s.Active, serverID)
	return nil
}

// MarkExecuted records that policyID fired successfully: policy_touched[p]
// and group_touched are set to the same instant, read once from the clock,
// so both updates become visible together.
func (s *State) MarkExecuted(policyID string) {
	now := s.clk.Now()
	s.PolicyTouched[policyID] = now
	s.GroupTouched = now
}

// GetCapacity returns the current/pending/in-flight-desired triple.
func (s *State) GetCapacity() Capacity {
	return Capacity{
		Current: len(s.Active),
		Pending: len(s.Pending),
		Desired: len(s.Active) + len(s.Pending),
	}
}

// SetError transitions the group to ERROR with the given presented reasons.
// A nil or empty reasons slice is invalid for ERROR — use ClearError instead.
func (s *State) SetError(reasons []string) {
	s.Status = StatusError
	s.ErrorReasons = reasons
}

// ClearError transitions the group back to ACTIVE and clears error_reasons —
// the auto-recovery path the Convergence Dispatcher takes when a previously
// erroring group produces an empty error set.
func (s *State) ClearError() {
	s.Status = StatusActive
	s.ErrorReasons = nil
}

// Deletable reports whether the group may transition to DELETING: both the
// active and pending collections must be empty.
func (s *State) Deletable() bool {
	return len(s.Active) == 0 && len(s.Pending) == 0
}

// Now returns the instant the state's clock considers current — the same
// clock AddJob/AddActive/MarkExecuted stamp their timestamps from, so a
// caller evaluating CooldownElapsed against PolicyTouched/GroupTouched uses
// a consistent notion of "now".
func (s *State) Now() time.Time {
	return s.clk.Now()
}

// CooldownElapsed reports whether d has elapsed since t, treating the zero
// time (never touched) as "cooldown always elapsed".
func CooldownElapsed(now, t time.Time, d time.Duration) bool {
	if t.IsZero() {
		return true
	}
	return now.Sub(t) >= d
}
