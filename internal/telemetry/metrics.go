package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "autoscale",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// GroupsTotal tracks the number of scaling groups by status, across all tenants.
var GroupsTotal = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "autoscale",
		Subsystem: "groups",
		Name:      "total",
		Help:      "Current number of scaling groups by status.",
	},
	[]string{"status"},
)

// PoliciesExecutedTotal counts policy executions by entry point and outcome.
var PoliciesExecutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "policies",
		Name:      "executed_total",
		Help:      "Total number of policy execution attempts.",
	},
	[]string{"entry_point", "outcome"},
)

// ConvergenceDuration tracks how long a single group's convergence attempt took.
var ConvergenceDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "autoscale",
		Subsystem: "converge",
		Name:      "duration_seconds",
		Help:      "Convergence attempt duration in seconds, per group.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	},
	[]string{"outcome"},
)

// GroupStatusTransitionsTotal counts ACTIVE<->ERROR transitions the
// Convergence Dispatcher records, by from/to status.
var GroupStatusTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "converge",
		Name:      "group_status_transitions_total",
		Help:      "Total number of group status transitions recorded during convergence.",
	},
	[]string{"from", "to"},
)

// ConvergenceFailuresTotal counts convergence passes that returned an error
// outright (as opposed to a presented ErrorReason written to group state).
var ConvergenceFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "converge",
		Name:      "failures_total",
		Help:      "Total number of convergence attempts that failed outright.",
	},
	[]string{},
)

// LockContentionTotal counts GroupLock acquisition failures due to contention.
var LockContentionTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "lock",
		Name:      "contention_total",
		Help:      "Total number of group lock acquisitions that failed due to contention.",
	},
)

// ScheduledEventsFiredTotal counts events drained from the schedule store.
var ScheduledEventsFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "schedule",
		Name:      "fired_total",
		Help:      "Total number of scheduled events fetched and fired, by bucket.",
	},
	[]string{"bucket"},
)

// NotificationsTotal counts operator notifications sent, by kind.
var NotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autoscale",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Total number of operator notifications sent, by kind.",
	},
	[]string{"kind"},
)

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// All returns the autoscale-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		GroupsTotal,
		PoliciesExecutedTotal,
		ConvergenceDuration,
		GroupStatusTransitionsTotal,
		ConvergenceFailuresTotal,
		LockContentionTotal,
		ScheduledEventsFiredTotal,
		NotificationsTotal,
	}
}
