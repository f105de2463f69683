// Package metrics holds the Prometheus collectors of drand-watch.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequests counts requests made to HTTP providers.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drand_watch_http_requests_total",
		Help: "Requests sent to HTTP providers, by status code.",
	}, []string{"provider", "code", "method"})

	// HTTPRequestDuration tracks how long HTTP providers take to answer.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drand_watch_http_request_duration_seconds",
		Help:    "Latency of requests sent to HTTP providers.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"provider", "code", "method"})

	// RaceDuration tracks the time to pick a race winner, or to give up.
	RaceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drand_watch_race_duration_seconds",
		Help:    "Duration of provider races.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"outcome"})

	// RaceWins counts races won per provider.
	RaceWins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drand_watch_race_wins_total",
		Help: "Races won by each provider.",
	}, []string{"provider"})

	// ProviderLatency is the smoothed latency estimate of each provider.
	ProviderLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drand_watch_provider_latency_seconds",
		Help: "Smoothed fetch latency of each provider.",
	}, []string{"provider"})

	// ProviderConsecutiveFailures mirrors the failure streak of each provider.
	ProviderConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drand_watch_provider_consecutive_failures",
		Help: "Current failure streak of each provider.",
	}, []string{"provider"})

	// LatestRound is the last round handed to a consumer.
	LatestRound = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drand_watch_latest_round",
		Help: "Last verified round emitted to a consumer.",
	})

	// VerificationFailures counts beacons rejected by verification.
	VerificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drand_watch_verification_failures_total",
		Help: "Beacons that failed verification.",
	})

	// VerificationDisabled is 1 while a client runs with verification turned off.
	VerificationDisabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drand_watch_verification_disabled",
		Help: "Set to 1 when beacon verification is disabled. Insecure.",
	})
)

var clientCollectors = []prometheus.Collector{
	HTTPRequests,
	HTTPRequestDuration,
	RaceDuration,
	RaceWins,
	ProviderLatency,
	ProviderConsecutiveFailures,
	LatestRound,
	VerificationFailures,
	VerificationDisabled,
}

// RegisterClientMetrics registers every client collector with r. Collectors
// that are already registered are skipped so a registry can be shared.
func RegisterClientMetrics(r prometheus.Registerer) error {
	for _, c := range clientCollectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
