// Package metrics exposes the observation-surface counters and histograms
// named in SPEC_FULL.md §6.3, built with the teacher's own promauto style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts call_tool invocations, labeled by final outcome.
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmcp_calls_total",
		Help: "Total number of call_tool invocations by final outcome",
	}, []string{"tool", "outcome"}) // outcome: completed, failed, cancelled

	// AttemptsTotal counts every underlying attempt the retry engine makes.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmcp_attempts_total",
		Help: "Total number of underlying call attempts",
	}, []string{"tool", "result"}) // result: acked, nacked, error

	// RetriesTotal counts attempts beyond the first per call.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmcp_retries_total",
		Help: "Total number of retry attempts (attempt > 1)",
	}, []string{"tool"})

	// CallDuration measures end-to-end call_tool latency.
	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmcp_call_duration_seconds",
		Help:    "End-to-end call_tool latency across all attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool", "outcome"})

	// DedupHits/Misses/Evictions track the deduplication cache.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmcp_dedup_hits_total",
		Help: "Total number of deduplication cache hits",
	})
	DedupMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmcp_dedup_misses_total",
		Help: "Total number of deduplication cache misses",
	})
	DedupEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmcp_dedup_evictions_total",
		Help: "Total number of deduplication cache evictions",
	})

	// TrackerInFlight reports the current size of the request tracker registry.
	TrackerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmcp_tracker_in_flight",
		Help: "Number of requests currently tracked in the registry",
	})
)
