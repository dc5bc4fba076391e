package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationsTotal tracks validation calls by outcome kind (or "error")
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_validations_total",
		Help: "Total number of card validations processed",
	}, []string{"outcome"})

	// ValidationDuration tracks validation processing time
	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cardgate_validation_duration_seconds",
		Help:    "Histogram of card validation duration",
		Buckets: prometheus.DefBuckets,
	})

	// ActivationRetries counts re-reads after losing a compare-and-swap
	ActivationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardgate_activation_retries_total",
		Help: "Total number of lifecycle writes retried after a version conflict",
	})

	// CardsGenerated counts cards inserted by the code generator
	CardsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_cards_generated_total",
		Help: "Total number of cards generated",
	}, []string{"prefix"})

	// GenerationCollisions counts random codes discarded because they already existed
	GenerationCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardgate_generation_collisions_total",
		Help: "Total number of generated codes rejected as duplicates",
	})

	// ExpiredTransitions counts ACTIVE to EXPIRED transitions by path
	ExpiredTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgate_expired_transitions_total",
		Help: "Total number of cards moved to EXPIRED",
	}, []string{"path"})

	// EventPublishFailures counts lifecycle events that could not be delivered
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardgate_event_publish_failures_total",
		Help: "Total number of lifecycle events that failed to publish",
	})

	// DBConnectionsActive tracks open database connections
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cardgate_db_connections_active",
		Help: "Number of active database connections",
	})
)
