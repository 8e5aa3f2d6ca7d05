package batching

import "github.com/prometheus/client_golang/prometheus"

var (
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "batches_total",
			Help:      "Sealed batches by seal reason",
		},
		[]string{"model", "reason"},
	)

	batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "batch_size",
			Help:      "Number of tasks per sealed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"model"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "tasks_total",
			Help:      "Completed tasks by result",
		},
		[]string{"model", "result"},
	)

	queueWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "queue_wait_seconds",
			Help:      "Time from batch creation to dispatch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	engineSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "engine_duration_seconds",
			Help:      "Engine execution time per batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	inflightBatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "inflight_batches",
			Help:      "Batches currently executing",
		},
		[]string{"model"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servingd",
			Subsystem: "batching",
			Name:      "rejections_total",
			Help:      "Rejected submissions by reason",
		},
		[]string{"model", "reason"},
	)
)

func init() {
	prometheus.MustRegister(batchesTotal, batchSize, tasksTotal, queueWaitSeconds, engineSeconds, inflightBatches, rejectionsTotal)
}
