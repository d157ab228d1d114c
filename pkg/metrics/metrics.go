package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsDelivered tracks per-record delivery outcomes
	// Labels allow filtering by status (success/failed), table, and origin (auto/manual)
	RecordsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_records_delivered_total",
		Help: "Total number of records delivered to the workflow platform",
	}, []string{"status", "table", "origin"})

	// RunDuration measures how long one dispatcher run takes end to end
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowsync_run_duration_seconds",
		Help:    "Duration of one upload run in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of change events captured per poll cycle
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowsync_poll_batch_size",
		Help:    "Number of change events fetched per poll cycle",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// ChangeBacklog tracks unprocessed change events in the store
	// This is the primary indicator of pipeline lag
	ChangeBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsync_change_backlog",
		Help: "Current number of unprocessed change events",
	})

	// RuleErrors counts configuration-class aborts per table
	RuleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_rule_errors_total",
		Help: "Total number of batches aborted by rule configuration errors",
	}, []string{"table"})

	// ActiveTasks tracks upload tasks currently in a non-terminal state
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsync_active_tasks",
		Help: "Number of upload tasks currently pending or processing",
	})

	// BrokerHealth provides a binary 0/1 signal for the failure-event publisher
	// 1 = Healthy, 0 = Unhealthy (connection to RabbitMQ is down)
	BrokerHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsync_broker_healthy",
		Help: "Current health of the failure-event broker link (1 healthy, 0 down)",
	})
)
