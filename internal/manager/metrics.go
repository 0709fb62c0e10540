package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lunad/internal/session"
)

var (
	promptTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lunad",
			Subsystem: "generate",
			Name:      "prompt_tokens_total",
			Help:      "Total prompt tokens evaluated across generations",
		},
	)

	responseTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lunad",
			Subsystem: "generate",
			Name:      "response_tokens_total",
			Help:      "Total response tokens emitted across generations",
		},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lunad",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of generations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"finish_reason"},
	)

	sessionLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lunad",
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Total model session loads",
		},
	)

	sessionResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lunad",
			Subsystem: "session",
			Name:      "resets_total",
			Help:      "Total session resets, including failure-driven invalidations",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		promptTokensTotal,
		responseTokensTotal,
		generationDuration,
		sessionLoadsTotal,
		sessionResetsTotal,
	)
}

// observeGeneration records token counters and duration. Token counts are
// valid even on error (partial generation), so it is called unconditionally.
// An aborted stream is labeled "error" regardless of the partial Result's
// finish reason.
func observeGeneration(res session.Result, genErr error, elapsed time.Duration) {
	promptTokensTotal.Add(float64(res.InputTokens))
	responseTokensTotal.Add(float64(res.ResponseTokens))
	reason := res.FinishReason
	if genErr != nil || reason == "" {
		reason = "error"
	}
	generationDuration.WithLabelValues(reason).Observe(elapsed.Seconds())
}
