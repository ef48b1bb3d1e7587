package infer

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncinfer_tasks_total",
			Help: "Total number of settled inference tasks by outcome.",
		},
		[]string{"outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asyncinfer_task_duration_seconds",
			Help:    "Time from task start to settlement, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	batchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncinfer_batches_in_flight",
			Help: "Number of submitted batches that have not finished.",
		},
	)

	lateResultsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncinfer_late_results_discarded_total",
			Help: "Inference results that arrived after their task timed out.",
		},
	)

	listenerPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asyncinfer_listener_panics_total",
			Help: "Listener invocations that panicked.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(batchesInFlight)
	prometheus.MustRegister(lateResultsDiscarded)
	prometheus.MustRegister(listenerPanics)

	for _, k := range []Kind{KindSuccess, KindEngineFailure, KindTimeout} {
		tasksTotal.WithLabelValues(string(k))
	}
}

func observeOutcome(o Outcome) {
	kind := string(o.Kind())
	tasksTotal.WithLabelValues(kind).Inc()
	taskDuration.WithLabelValues(kind).Observe(o.Duration.Seconds())
}
