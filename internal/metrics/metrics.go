package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides ingestion and query counters backed by the default registry.
var Module = fx.Module("metrics",
	fx.Provide(NewDefault),
)

// Metrics exposes counters for the ingestion and aggregation paths.
type Metrics struct {
	EventsRecorded      *prometheus.CounterVec
	DuplicateEvents     prometheus.Counter
	EstimatedEvents     prometheus.Counter
	SuppressedIntervals prometheus.Counter
	RejectedSamples     prometheus.Counter
	MalformedMessages   prometheus.Counter
	PoisonMessages      prometheus.Counter
	UnpricedQuantity    prometheus.Counter
}

func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "billing_events_recorded_total",
			Help:      "Billing events appended to the ledger, by provenance.",
		}, []string{"provenance"}),
		DuplicateEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "billing_events_duplicate_total",
			Help:      "Billing events ignored because their UUID was already stored.",
		}),
		EstimatedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "estimated_events_total",
			Help:      "Synthetic events derived from consumption-rate samples.",
		}),
		SuppressedIntervals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "estimation_suppressed_intervals_total",
			Help:      "Sample intervals skipped because an explicit event covered them.",
		}),
		RejectedSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "rate_samples_rejected_total",
			Help:      "Consumption-rate samples rejected as non-monotonic or out of range.",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "ingest_malformed_messages_total",
			Help:      "Inbound messages dropped because they failed to parse.",
		}),
		PoisonMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "ingest_poison_messages_total",
			Help:      "Inbound messages skipped after exhausting retries.",
		}),
		UnpricedQuantity: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "aggregate_unpriced_quantity_total",
			Help:      "Usage quantity surfaced as unpriced during aggregation.",
		}),
	}
}
