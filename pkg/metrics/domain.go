package metrics

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors for the billing pipeline, registered on the default
// registry and served by the same listener as the HTTP metrics.
var (
	EventsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "indexer",
			Name:      "events_indexed_total",
			Help:      "Chain events applied to the projection, by event name.",
		},
		[]string{"event"},
	)

	CheckpointSlot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: "indexer",
			Name:      "checkpoint_slot",
			Help:      "Last fully processed chain slot.",
		},
	)

	PaymentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "scheduler",
			Name:      "payments_processed_total",
			Help:      "Scheduled payment outcomes, by terminal status.",
		},
		[]string{"status"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(EventsIndexed, CheckpointSlot, PaymentsProcessed, WebhookDeliveries)
}
