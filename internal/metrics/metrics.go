// Package metrics registers the relay's Prometheus collectors on the
// default registry; the webhook server exposes them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake.
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_webhooks_received_total",
			Help: "Webhook requests by outcome (accepted, ignored, invalid, failed)",
		},
		[]string{"outcome"},
	)

	// Aggregation engine.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_submissions_total",
			Help: "Notifications submitted to the engine by kind and path (immediate, batched, fallback)",
		},
		[]string{"kind", "path"},
	)

	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_flushes_total",
			Help: "Batch flushes by outcome (merged, single, inconsistent)",
		},
		[]string{"outcome"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embygram_batch_size_episodes",
			Help:    "Episodes per flushed batch",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
		},
	)

	PendingBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embygram_pending_batches",
			Help: "Batches currently waiting for their aggregation window to close",
		},
	)

	// Telegram delivery.
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_telegram_sends_total",
			Help: "Telegram deliveries by outcome (success, failure)",
		},
		[]string{"outcome"},
	)

	// TMDB enrichment.
	TMDBLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_tmdb_lookups_total",
			Help: "TMDB API calls by operation (details, find, search) and outcome (hit, miss, error, rejected)",
		},
		[]string{"op", "outcome"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embygram_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Delivery history.
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_history_writes_total",
			Help: "Delivery history records written by outcome (ok, error)",
		},
		[]string{"outcome"},
	)

	DigestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embygram_digest_runs_total",
			Help: "Daily digest runs by outcome (sent, empty, error)",
		},
		[]string{"outcome"},
	)
)
