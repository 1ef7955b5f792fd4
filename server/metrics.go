package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_server_connections_total",
			Help: "Number of accepted snapshot connections",
		},
	)
	metricActiveSends = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replstream_server_active_sends",
			Help: "Number of snapshot sends in progress",
		},
	)
	metricSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_server_sends_total",
			Help: "Number of snapshot requests handled, by result",
		},
		[]string{"result"},
	)
	metricSendSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replstream_server_send_seconds",
			Help:    "Duration of successful snapshot sends",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
	metricCacheLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_server_cache_lookups_total",
			Help: "Number of snapshot payload cache lookups, by result",
		},
		[]string{"result"},
	)
	metricEventsMissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_server_events_missed_total",
			Help: "Number of events not delivered to a busy subscriber",
		},
	)
)

func init() {
	prometheus.MustRegister(metricConnections)
	prometheus.MustRegister(metricActiveSends)
	prometheus.MustRegister(metricSends)
	prometheus.MustRegister(metricSendSeconds)
	prometheus.MustRegister(metricCacheLoads)
	prometheus.MustRegister(metricEventsMissed)
}
