package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassificationsTotal tracks classifier outcomes
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_classifications_total",
			Help: "Total number of classified provider failures",
		},
		[]string{"category", "family", "rule"},
	)

	// RetryDecisionsTotal tracks orchestrator decisions
	RetryDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_retry_decisions_total",
			Help: "Total number of retry decisions",
		},
		[]string{"provider", "action", "final"},
	)

	// RetryDelaySeconds tracks scheduled retry delays
	RetryDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payguard_retry_delay_seconds",
			Help:    "Delay before a scheduled retry in seconds",
			Buckets: []float64{60, 300, 600, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"policy"},
	)

	// ProviderCallsTotal tracks provider adapter calls
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_provider_calls_total",
			Help: "Total number of provider transfer calls",
		},
		[]string{"provider", "result"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payguard_provider_latency_seconds",
			Help:    "Provider transfer call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// BatchItemsTotal tracks retry batch outcomes per item
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_batch_items_total",
			Help: "Total number of retry batch items by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks retry batch duration
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payguard_batch_duration_seconds",
			Help:    "Retry batch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ClaimConflictsTotal tracks lost status compare-and-swap races
	ClaimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payguard_claim_conflicts_total",
			Help: "Retries skipped because another worker or path claimed the transaction",
		},
	)

	// VarianceDecisionsTotal tracks variance categories
	VarianceDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_variance_decisions_total",
			Help: "Total number of variance evaluations",
		},
		[]string{"category", "size_class"},
	)

	// RedemptionsTotal tracks recovery redemption outcomes
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_redemptions_total",
			Help: "Total number of recovery redemption attempts",
		},
		[]string{"action", "outcome"},
	)

	// HoldTransitionsTotal tracks hold state changes
	HoldTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_hold_transitions_total",
			Help: "Total number of hold transitions",
		},
		[]string{"from", "to"},
	)

	// AuditDroppedTotal tracks audit events dropped on overflow or write failure
	AuditDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_audit_dropped_total",
			Help: "Total number of audit events dropped",
		},
		[]string{"reason"},
	)

	// NotificationsTotal tracks notification sends
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_notifications_total",
			Help: "Total number of notifications sent",
		},
		[]string{"category", "result"},
	)

	// RetryQueueReady tracks transactions due for retry
	RetryQueueReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payguard_retry_queue_ready",
			Help: "Transactions whose retry is due",
		},
	)

	// AwaitingManual tracks failed transactions without a scheduled retry
	AwaitingManual = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payguard_awaiting_manual",
			Help: "Failed transactions awaiting manual resolution",
		},
	)

	// DBConnectionPoolUsage tracks database pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payguard_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// SessionsPrunedTotal tracks expired recovery sessions removed
	SessionsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payguard_sessions_pruned_total",
			Help: "Total number of expired recovery sessions pruned",
		},
	)

	// HTTPRequestsTotal tracks API requests by route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// HTTPRequestDuration tracks API latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payguard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
