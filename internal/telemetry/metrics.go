package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выборов лидера.
var (
	ElectionIsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quorum_election_is_leader",
		Help: "1 if this node currently holds the leader lease.",
	})

	ElectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_election_transitions_total",
		Help: "Leadership transitions observed by this node.",
	}, []string{"event"})

	ElectionStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_election_store_errors_total",
		Help: "Lease store operation failures.",
	}, []string{"op"})
)

// Метрики планировщика задач.
var (
	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_jobs_scheduled_total",
		Help: "Jobs scheduled by this node.",
	}, []string{"queue"})

	JobsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_jobs_executed_total",
		Help: "Job executions by result.",
	}, []string{"result"})

	JobsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quorum_jobs_canceled_total",
		Help: "Jobs removed from this node's waiting set by cancel.",
	})

	JobsWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quorum_jobs_waiting",
		Help: "Jobs armed on this node and waiting for their run time.",
	})

	JobsLateness = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quorum_jobs_lateness_seconds",
		Help:    "Delay between scheduled run time and actual execution.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 3600},
	})
)

// Метрики broadcast.
var (
	BroadcastReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_broadcast_received_total",
		Help: "Broadcast messages received by type.",
	}, []string{"message"})
)

// Метрики шины.
var (
	BusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quorum_bus_reconnects_total",
		Help: "Successful reconnects to the message broker.",
	})
)
