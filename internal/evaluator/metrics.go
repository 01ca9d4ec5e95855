package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ensembletrack",
		Subsystem: "evaluator",
		Name:      "producers",
		Help:      "Currently connected producers",
	})

	eventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "evaluator",
		Name:      "events_rejected_total",
		Help:      "Producer messages that could not be decoded",
	})

	// Labels: type (ee-user-cancel, ee-user-done)
	monitorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "evaluator",
		Name:      "monitor_requests_total",
		Help:      "Requests received from monitors",
	}, []string{"type"})
)
