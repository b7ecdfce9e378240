package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveTasks tracks the number of running periodic task instances.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "periodic_active_tasks",
		Help: "Number of currently running task instances",
	})

	// Admissions tracks admission decisions by outcome.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "periodic_admissions_total",
		Help: "Total admission decisions",
	}, []string{"outcome"}) // admitted, unknown_task, unschedulable, capacity_full

	// DeadlineMisses counts jobs that finished past their deadline.
	DeadlineMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "periodic_deadline_misses_total",
		Help: "Jobs that completed after their release deadline",
	}, []string{"task"})

	// QueueDepth tracks the number of events waiting for the supervisor.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "periodic_event_queue_depth",
		Help: "Commands queued between the network layer and the supervisor",
	})

	// QueueOverflows counts enqueue attempts rejected by a full queue.
	QueueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "periodic_event_queue_overflows_total",
		Help: "Commands rejected because the event queue was full",
	})

	// Connections tracks currently open client connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "periodic_connections",
		Help: "Currently open control connections",
	})

	// ConnectionsRejected counts connections closed at the cap.
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "periodic_connections_rejected_total",
		Help: "Connections refused because the client cap was reached",
	})

	// Commands counts parsed commands by verb.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "periodic_commands_total",
		Help: "Commands received, by verb",
	}, []string{"verb"}) // activate, deactivate, shutdown, invalid

	// JournalPublishFailures counts failed journal writes (best-effort).
	JournalPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "periodic_journal_publish_failures_total",
		Help: "Failed journal publish attempts (non-blocking, best-effort)",
	}, []string{"topic"})
)
