// Package metrics exports Prometheus metrics shared by the iperf3-go
// client and server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for general use, in both the client and the server.
var (
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iperf3_active_sessions",
			Help: "A gauge of tests currently in flight.",
		},
		[]string{"role"})
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iperf3_bytes_total",
			Help: "Cumulative bytes transferred on data connections.",
		},
		[]string{"role", "direction"},
	)
	SessionRateMbps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "iperf3_session_rate_mbps",
			Help: "A histogram of measured session rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000, 2500, 5000, 10000,
			},
		},
		[]string{"role", "direction"},
	)
	SessionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iperf3_session_total",
			Help: "Number of completed sessions.",
		},
		[]string{"role", "outcome"},
	)
	SessionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iperf3_session_errors_total",
			Help: "Number of session errors, labeled by error kind.",
		},
		[]string{"role", "kind"},
	)
	PacerWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iperf3_pacer_wait_seconds",
			Help:    "Time spent blocked waiting for pacer tokens.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
