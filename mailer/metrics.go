package mailer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restmailer",
		Subsystem: "mailer",
		Name:      "deliveries_total",
		Help:      "Completed deliveries by result (sent or error).",
	}, []string{"result"})

	deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "restmailer",
		Subsystem: "mailer",
		Name:      "delivery_duration_seconds",
		Help:      "Wall time of whole deliveries, MX resolution included.",
		Buckets:   prometheus.DefBuckets,
	})

	queuedDeliveries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "restmailer",
		Subsystem: "mailer",
		Name:      "queued_deliveries",
		Help:      "Background deliveries dispatched but not yet finished.",
	})
)
