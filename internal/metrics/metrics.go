package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "researchd_sessions_active",
			Help: "Number of connected sessions",
		},
	)

	// Task metrics
	TasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_tasks_started_total",
			Help: "Total number of tasks started",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	TasksReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_tasks_replaced_total",
			Help: "Tasks cancelled because a new chat request arrived",
		},
	)

	// Interceptor metrics
	InterceptedCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_intercepted_calls_total",
			Help: "Capability calls made through the interceptor",
		},
		[]string{"kind", "name", "outcome"},
	)

	InterceptedCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_intercepted_call_duration_seconds",
			Help:    "Duration of intercepted capability calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "name"},
	)

	// Pipeline metrics
	DiscoveryResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_discovery_results_total",
			Help: "Search results seen by discovery, by outcome",
		},
		[]string{"outcome"},
	)

	DiscoveryQueryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_discovery_query_failures_total",
			Help: "Search queries that failed or returned nothing",
		},
	)

	ExtractionRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_extraction_records_total",
			Help: "Extraction records kept, by category",
		},
		[]string{"category"},
	)

	ExtractionDocumentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_extraction_documents_dropped_total",
			Help: "Documents discarded during extraction, by reason",
		},
		[]string{"reason"},
	)

	ReportSectionsOmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_report_sections_omitted_total",
			Help: "Report sections omitted because their generator failed",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Protocol metrics
	ProtocolMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_protocol_messages_total",
			Help: "Client protocol messages received, by type",
		},
		[]string{"type"},
	)

	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_protocol_errors_total",
			Help: "Malformed or unknown client messages",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_events_dropped_total",
			Help: "Server events discarded because the session was closed",
		},
	)

	// History metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_history_writes_total",
			Help: "Task history writes, by result",
		},
		[]string{"result"},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_policy_decisions_total",
			Help: "Tool policy decisions, by tool and decision",
		},
		[]string{"tool", "decision"},
	)
)
