// Package metrics defines the service's Prometheus metrics. All metrics are
// registered with the default registry at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slnpart"

// JobsSubmittedTotal counts accepted submissions.
// Labels:
//   - kind: cover_art, audio_master, video
var JobsSubmittedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Total number of generation jobs created.",
	},
	[]string{"kind"},
)

// JobsFinishedTotal counts jobs reaching a terminal status.
// Labels:
//   - kind: job kind
//   - status: completed or failed
//   - path: submit (synchronous) or poll (reconciled later)
var JobsFinishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Total number of jobs that reached a terminal status.",
	},
	[]string{"kind", "status", "path"},
)

// ProviderAttemptsTotal counts calls to individual providers.
// Labels:
//   - provider: provider name from the chain policy
//   - result: immediate, deferred, error
var ProviderAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_attempts_total",
		Help:      "Total number of provider generate calls by outcome.",
	},
	[]string{"provider", "result"},
)

// ProviderDuration measures a single provider generate call.
var ProviderDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_duration_seconds",
		Help:      "Duration of provider generate calls.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"provider"},
)

// LedgerDebitsTotal counts debit attempts.
// Label:
//   - result: ok, insufficient, error
var LedgerDebitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_debits_total",
		Help:      "Total number of ledger debit attempts by result.",
	},
	[]string{"result"},
)

// TokensCreditedTotal sums tokens added by confirmed settlements.
var TokensCreditedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_credited_total",
		Help:      "Total number of tokens credited from settlements.",
	},
)
