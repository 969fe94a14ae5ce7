package certwaiter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchTaskInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "narwhal_certificate_waiter_fetch_inflight",
			Help: "Whether a fetch task is currently in flight (0 or 1).",
		},
		[]string{"epoch"},
	)
	fetchAttemptCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narwhal_certificate_waiter_fetch_attempt_count",
			Help: "Number of peer fetch attempts issued by the waiter.",
		},
		[]string{"epoch"},
	)
	fetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narwhal_certificate_waiter_fetch_latency_seconds",
			Help:    "Latency of successful fetch tasks, from Kick to downstream handoff.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"epoch"},
	)
	processedCertificateCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narwhal_certificate_waiter_processed_certificate_count",
			Help: "Number of certificates delivered downstream via the loopback channel.",
		},
		[]string{"epoch"},
	)

	waiterCollectors = []prometheus.Collector{
		fetchTaskInflight,
		fetchAttemptCount,
		fetchLatency,
		processedCertificateCount,
	}

	metricsOnce sync.Once
)

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(waiterCollectors...)
	})
}
