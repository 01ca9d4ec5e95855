package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ensembletrack.dispatcher")

var (
	eventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "events_ingested_total",
		Help:      "Events accepted from producers",
	})

	// Labels: reason (dead_handler, unhandled)
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "events_dropped_total",
		Help:      "Events discarded without being merged",
	}, []string{"reason"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "batch_size",
		Help:      "Number of events per merged batch",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "handler_failures_total",
		Help:      "Handlers marked dead after an error or panic",
	}, []string{"kind"})

	subscriberResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "subscriber_resyncs_total",
		Help:      "Subscriber queue overflows answered with a full snapshot",
	})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ensembletrack",
		Subsystem: "dispatcher",
		Name:      "subscribers",
		Help:      "Currently attached monitors",
	})
)
