package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	daemonRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelconsole",
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Requests sent to the model daemon by operation and outcome category",
		},
		[]string{"op", "outcome"},
	)

	daemonRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelconsole",
			Subsystem: "daemon",
			Name:      "request_duration_seconds",
			Help:      "Duration of single daemon request attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	daemonRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelconsole",
			Subsystem: "daemon",
			Name:      "retries_total",
			Help:      "Retries scheduled after transient daemon failures",
		},
		[]string{"op"},
	)

	daemonHealthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelconsole",
			Subsystem: "daemon",
			Name:      "health_probes_total",
			Help:      "Health probes issued, by result",
		},
		[]string{"result"},
	)

	pullEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelconsole",
			Subsystem: "daemon",
			Name:      "pull_events_total",
			Help:      "Pull progress events emitted, by phase",
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(daemonRequestsTotal, daemonRequestDuration, daemonRetriesTotal, daemonHealthProbes, pullEventsTotal)
}

func observeRequest(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(CategoryOf(err))
	}
	daemonRequestsTotal.WithLabelValues(op, outcome).Inc()
	daemonRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
