package speedtest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhaseResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_phase_results_total",
			Help: "Number of measurement phases by outcome.",
		},
		[]string{"phase", "result"},
	)
	ThroughputMbps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedtest_throughput_mbps",
			Help:    "Aggregated throughput of completed transfers.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 16),
		},
		[]string{"direction"},
	)
	LatencyMilliseconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speedtest_latency_milliseconds",
			Help:    "Round-trip time reported by the latency prober.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func observePhase(phase Phase, result string) {
	PhaseResults.WithLabelValues(string(phase), result).Inc()
}

func observeTransfer(phase Phase, result *TransferResult) {
	outcome := "ok"
	if result.Partial {
		outcome = "partial"
	}
	observePhase(phase, outcome)
	ThroughputMbps.WithLabelValues(string(result.Direction)).Observe(result.Mbps)
}
