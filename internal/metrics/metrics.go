package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistryInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repovista_registry_instances",
		Help: "Registered instances per service group.",
	}, []string{"service"})

	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repovista_registry_broadcast_failures_total",
		Help: "Broadcast fan-out requests that failed.",
	}, []string{"service"})

	TasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repovista_scheduler_tasks_started_total",
		Help: "Update tasks dispatched by the scheduler.",
	})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repovista_scheduler_tasks_finished_total",
		Help: "Update tasks reaching a terminal state.",
	}, []string{"result"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repovista_scheduler_tick_duration_seconds",
		Help:    "Duration of one scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})
)
