// Package metrics declares the process-wide Prometheus collectors and
// registers them against a Registerer at startup, using a declarative-var-
// plus-Register pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "jobs_total",
		Help:      "Total jobs reaching a terminal status, by status.",
	}, []string{"status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediafetch",
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently running across all workers.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediafetch",
		Name:      "queue_depth",
		Help:      "Number of jobs waiting to be reserved from the queue.",
	})

	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediafetch",
		Name:      "active_workers",
		Help:      "Number of worker goroutines currently executing a job.",
	})

	ExtractorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediafetch",
		Name:      "extractor_invocation_duration_seconds",
		Help:      "Duration of extractor subprocess invocations, by outcome.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"outcome"})

	StorageOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediafetch",
		Name:      "storage_operation_duration_seconds",
		Help:      "Duration of storage backend operations, by operation and outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"operation", "outcome"})

	CredentialRotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "credential_rotations_total",
		Help:      "Total credential bundle promotions and reloads, by reason.",
	}, []string{"reason"})

	QueueRequeuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "queue_requeues_total",
		Help:      "Total nack/redelivery requeues, by reason.",
	}, []string{"reason"})

	JobRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "job_retries_total",
		Help:      "Total explicit operator-initiated job retries.",
	})

	JobCancellationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "job_cancellations_total",
		Help:      "Total job cancellation requests accepted.",
	})

	ProgressEventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediafetch",
		Name:      "progress_events_dropped_total",
		Help:      "Total progress events dropped from a full subscriber channel.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsTotal,
		JobsInFlight,
		QueueDepth,
		ActiveWorkers,
		ExtractorDuration,
		StorageOperationDuration,
		CredentialRotationsTotal,
		QueueRequeuesTotal,
		JobRetriesTotal,
		JobCancellationsTotal,
		ProgressEventsDroppedTotal,
	)
}
