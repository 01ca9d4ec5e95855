package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ensembletrack.jobqueue")

var (
	submitAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "jobqueue",
		Name:      "submit_attempts_total",
		Help:      "Calls to the driver's Submit",
	})

	submitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "jobqueue",
		Name:      "submit_retries_total",
		Help:      "Submissions retried after a transient error",
	})

	// Labels: outcome (success, failure, submit_failure)
	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "jobqueue",
		Name:      "job_outcomes_total",
		Help:      "Jobs by final outcome",
	}, []string{"outcome"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ensembletrack",
		Subsystem: "jobqueue",
		Name:      "jobs_active",
		Help:      "Jobs submitted and not yet finished",
	})
)
