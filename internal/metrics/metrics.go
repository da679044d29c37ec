package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-component counters and gauges for the master orchestration engine,
// partitioned by chain where useful.

var (
	// Worker Registry / Fleet Planner
	WorkersPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "registry",
		Name:      "workers_planned_total",
		Help:      "Total workers created by the fleet planner, by role",
	}, []string{"chain", "role"})

	// Reader Dispatcher
	ActiveReaders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "dispatcher",
		Name:      "active_readers",
		Help:      "Current number of active range readers",
	}, []string{"chain"})

	RangesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "dispatcher",
		Name:      "ranges_dispatched_total",
		Help:      "Total block ranges dispatched to readers",
	}, []string{"chain"})

	LastAssignedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "dispatcher",
		Name:      "last_assigned_block",
		Help:      "Exclusive upper bound of the most recently dispatched range",
	}, []string{"chain"})

	// Message Router
	RouterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "router",
		Name:      "events_total",
		Help:      "Total inbound worker events dispatched, by event kind",
	}, []string{"chain", "event"})

	RouterUnknownEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "router",
		Name:      "unknown_events_total",
		Help:      "Total inbound events with an unrecognized kind",
	}, []string{"chain"})

	// Live-Block Tracker
	LiveBlocksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "livetracker",
		Name:      "blocks_applied_total",
		Help:      "Total live blocks applied in order",
	}, []string{"chain"})

	LiveBlocksBuffered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "livetracker",
		Name:      "blocks_buffered",
		Help:      "Current number of out-of-order live blocks awaiting their turn",
	}, []string{"chain"})

	MissedRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "livetracker",
		Name:      "missed_rounds_total",
		Help:      "Total missed production rounds attributed to a producer",
	}, []string{"chain", "producer"})

	HandoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "livetracker",
		Name:      "handoffs_total",
		Help:      "Total producer handoffs observed",
	}, []string{"chain"})

	// Contract-Usage Balancer
	BalancerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "balancer",
		Name:      "ticks_total",
		Help:      "Total contract-usage balancer ticks",
	}, []string{"chain"})

	BalancerWorkerShare = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "balancer",
		Name:      "worker_share",
		Help:      "Current cumulative contract-hit share assigned to a ds-pool worker",
	}, []string{"chain", "worker_id"})

	BalancerReassignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "balancer",
		Name:      "reassignments_total",
		Help:      "Total remove_contract messages sent to ds-pool workers",
	}, []string{"chain"})

	// Progress Monitor
	MonitorConsumeRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "monitor",
		Name:      "consume_rate_blocks_per_sec",
		Help:      "Latest average consumed-block rate over the rate ring buffer",
	}, []string{"chain"})

	MonitorETASeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "monitor",
		Name:      "eta_seconds",
		Help:      "Estimated seconds remaining to reach head",
	}, []string{"chain"})

	MonitorIdleCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "monitor",
		Name:      "idle_ticks",
		Help:      "Current consecutive fully-idle tick count",
	}, []string{"chain"})

	MonitorTotalBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "master",
		Subsystem: "monitor",
		Name:      "total_blocks_consumed",
		Help:      "Cumulative consumed blocks since start",
	}, []string{"chain"})

	// Lifecycle Controller
	LifecycleStartupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "master",
		Subsystem: "lifecycle",
		Name:      "startup_duration_seconds",
		Help:      "Duration of the startup sequence before workers are spawned",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"chain"})

	LifecycleFatalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "lifecycle",
		Name:      "fatal_total",
		Help:      "Total fatal startup/runtime terminations, by failed subsystem",
	}, []string{"chain", "subsystem"})

	// RPC boundary rate limiter
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC boundary calls waited for the rate limiter",
	}, []string{"chain"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC boundary calls, classified by outcome",
	}, []string{"chain", "method", "status"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// Doctor / repair (disabled by default)
	DoctorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "master",
		Subsystem: "doctor",
		Name:      "runs_total",
		Help:      "Total repair-queue drain runs executed",
	}, []string{"chain"})
)
