// Package scheduledrain implements the background worker that periodically
// drains due events from every Schedule Store bucket and fires their
// policies through the Policy Execution Path, bypassing the Capability
// Index exactly like the authenticated execute entry point.
package scheduledrain

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/pkg/policy"
	"github.com/otterscale/autoscale/pkg/schedule"
)

// Worker drains every bucket of the Schedule Store on a fixed interval.
type Worker struct {
	store     *schedule.Store
	executor  *policy.Executor
	clk       clock.Clock
	logger    *slog.Logger
	buckets   int
	interval  time.Duration
	batchSize int
	fired     *prometheus.CounterVec // scheduled_events_fired_total{bucket}
}

// NewWorker builds a Worker that drains buckets [0, buckets) every interval,
// fetching at most batchSize due events per bucket per pass.
func NewWorker(store *schedule.Store, executor *policy.Executor, clk clock.Clock, logger *slog.Logger, buckets int, interval time.Duration, batchSize int, fired *prometheus.CounterVec) *Worker {
	if clk == nil {
		clk = clock.System{}
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{store: store, executor: executor, clk: clk, logger: logger, buckets: buckets, interval: interval, batchSize: batchSize, fired: fired}
}

// Run drives the drain loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("schedule drain worker starting", "buckets", w.buckets, "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("schedule drain worker stopping")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick drains one batch from every bucket exactly once. Run calls this on
// every tick; tests call it directly to drive a single pass synchronously.
func (w *Worker) Tick(ctx context.Context) {
	now := w.clk.Now()
	for bucket := 0; bucket < w.buckets; bucket++ {
		events, err := w.store.FetchAndDelete(ctx, bucket, now, w.batchSize)
		if err != nil {
			w.logger.Error("fetching due scheduled events", "error", err, "bucket", bucket)
			continue
		}
		for _, ev := range events {
			w.fireOne(ctx, ev, now)
		}
	}
}

func (w *Worker) fireOne(ctx context.Context, ev schedule.Event, now time.Time) {
	_, err := w.executor.ExecutePolicy(ctx, ev.TenantID, ev.GroupID, ev.PolicyID)
	if err != nil {
		w.logger.Error("executing scheduled policy", "error", err,
			"tenant_id", ev.TenantID, "group_id", ev.GroupID, "policy_id", ev.PolicyID)
	}
	if w.fired != nil {
		w.fired.WithLabelValues(strconv.Itoa(ev.Bucket)).Inc()
	}

	// Cron events are rescheduled after every fire — a successful execute,
	// a cooldown skip and an execute error alike. FetchAndDelete has already
	// removed the event, so this re-insert is what keeps the cron schedule
	// going.
	if ev.Cron != nil {
		if _, rerr := w.store.Reschedule(ctx, ev, now); rerr != nil {
			w.logger.Error("rescheduling cron event", "error", rerr,
				"tenant_id", ev.TenantID, "group_id", ev.GroupID, "policy_id", ev.PolicyID)
		}
	}
}
