package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emeter_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"outcome"}, // outcome: completed, failed
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emeter_job_duration_seconds",
			Help:    "Time from dispatch to terminal state",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		},
	)

	valuesPerJob = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emeter_job_values",
			Help:    "Number of readings recognized per completed job",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emeter_queue_depth",
			Help: "Number of jobs waiting for dispatch",
		},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emeter_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emeter_uploads_total",
			Help: "Total number of upload attempts",
		},
		[]string{"status"}, // status: accepted, rejected, error
	)

	janitorPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emeter_janitor_purged_total",
			Help: "Total number of expired jobs reclaimed",
		},
	)
)
