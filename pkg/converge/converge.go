// Package converge implements the Convergence Dispatcher: a background
// worker that periodically walks every non-deleting, non-paused, non-suspended
// group and drives it toward its desired capacity through a Converger
// collaborator, recording ERROR/ACTIVE transitions and notifying Slack on
// the way.
package converge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/group"
	"github.com/otterscale/autoscale/pkg/slack"
	"github.com/otterscale/autoscale/pkg/store"
)

// Converger drives one group's actual fleet toward st.Desired and reports
// back the mutated state plus whatever collaborator errors it hit along the
// way — a load balancer gone missing, a cloud quota rejection, and so on.
// A non-nil error here means the pass failed outright and nothing should be
// persisted; a non-nil reasons slice with a nil error means the pass ran but
// some servers could not be reconciled.
type Converger interface {
	Converge(ctx context.Context, tenantID, groupID uuid.UUID, st *group.State) (*group.State, []autoscaleerrors.ErrorReason, error)
}

// Dispatcher is the Convergence Dispatcher.
type Dispatcher struct {
	store     *store.Store
	converger Converger
	notifier  *slack.Notifier
	logger    *slog.Logger
	interval  time.Duration
	pageSize  int

	transitions *prometheus.CounterVec // group_status_transitions_total{from,to}
	failures    *prometheus.CounterVec // converge_failures_total
}

// NewDispatcher builds a Dispatcher. notifier may be nil (disabled Slack
// notifications); transitions/failures may be nil (no metrics recorded).
func NewDispatcher(st *store.Store, converger Converger, notifier *slack.Notifier, logger *slog.Logger, interval time.Duration, pageSize int, transitions, failures *prometheus.CounterVec) *Dispatcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Dispatcher{
		store: st, converger: converger, notifier: notifier, logger: logger,
		interval: interval, pageSize: pageSize, transitions: transitions, failures: failures,
	}
}

// Run blocks, ticking every interval, until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("convergence dispatcher started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("convergence dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Error("convergence dispatcher tick", "error", err)
			}
		}
	}
}

// Tick walks every converge candidate exactly once. Run calls this on every
// tick; tests call it directly to drive a single pass synchronously.
func (d *Dispatcher) Tick(ctx context.Context) error {
	marker := uuid.Nil
	for {
		page, err := d.store.ListConvergeCandidates(ctx, marker, d.pageSize)
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			if err := d.convergeOne(ctx, m.TenantID, m.GroupID); err != nil {
				d.logger.Error("converging group",
					"tenant_id", m.TenantID,
					"group_id", m.GroupID,
					"error", err,
				)
				if d.failures != nil {
					d.failures.WithLabelValues().Inc()
				}
			}
		}
		if !page.HasMore {
			return nil
		}
		marker = page.LastID
	}
}

// convergeOne runs one group through the Converger under the Mutation
// Engine, then notifies on any ACTIVE<->ERROR transition.
func (d *Dispatcher) convergeOne(ctx context.Context, tenantID, groupID uuid.UUID) error {
	var fromStatus, toStatus group.Status
	var presented []string

	err := d.store.ModifyState(ctx, tenantID, groupID, func(st *group.State) (*group.State, error) {
		fromStatus = st.Status

		next, reasons, cErr := d.converger.Converge(ctx, tenantID, groupID, st)
		if cErr != nil {
			return nil, cErr
		}

		presented = autoscaleerrors.PresentReasons(reasons)
		if len(presented) > 0 {
			next.SetError(presented)
		} else if next.Status == group.StatusError {
			next.ClearError()
		}
		toStatus = next.Status
		return next, nil
	})
	if err != nil {
		return err
	}

	if fromStatus != toStatus {
		d.notifyTransition(ctx, tenantID, groupID, fromStatus, toStatus, presented)
		if d.transitions != nil {
			d.transitions.WithLabelValues(string(fromStatus), string(toStatus)).Inc()
		}
	}
	return nil
}

func (d *Dispatcher) notifyTransition(ctx context.Context, tenantID, groupID uuid.UUID, from, to group.Status, reasons []string) {
	d.logger.Info("group status transition",
		"tenant_id", tenantID,
		"group_id", groupID,
		"from", from,
		"to", to,
		"reasons", reasons,
	)

	if d.notifier == nil || !d.notifier.IsEnabled() {
		return
	}

	severity := "info"
	description := "Scaling group recovered and returned to ACTIVE."
	if to == group.StatusError {
		severity = "error"
		description = "Scaling group entered ERROR during convergence."
	}

	_, _, err := d.notifier.PostAlert(ctx, slack.AlertInfo{
		AlertID:     groupID.String(),
		Title:       "Scaling group " + string(from) + " -> " + string(to),
		Severity:    severity,
		Description: description,
		Namespace:   tenantID.String(),
		Service:     groupID.String(),
	})
	if err != nil {
		d.logger.Error("posting convergence transition to slack", "error", err)
	}
}
