package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels: class (transient, fatal)
	connectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "monitor",
		Name:      "connection_failures_total",
		Help:      "Failed connection attempts and broken streams",
	}, []string{"class"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "monitor",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts after a transient failure",
	})
)
