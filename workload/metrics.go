package workload

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflictkv",
			Subsystem: "workload",
			Name:      "events_total",
			Help:      "Counter of workload events.",
		}, []string{"type"})

	iterationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conflictkv",
			Subsystem: "workload",
			Name:      "iteration_duration_seconds",
			Help:      "Bucketed histogram of the time spent on one iteration of the two transaction protocol.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"outcome"})

	violationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflictkv",
			Subsystem: "workload",
			Name:      "violations_total",
			Help:      "Counter of invariant violations by reason.",
		}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(eventCounter)
	prometheus.MustRegister(iterationDuration)
	prometheus.MustRegister(violationCounter)
}
