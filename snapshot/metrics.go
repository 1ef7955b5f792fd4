package snapshot

import "github.com/prometheus/client_golang/prometheus"

var (
	metricListCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_list_calls_total",
			Help: "Number of snapshot list calls",
		},
	)
	metricListFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_list_failed_total",
			Help: "Number of failed snapshot list calls",
		},
	)
	metricLoadCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_load_calls_total",
			Help: "Number of snapshot load calls",
		},
	)
	metricLoadFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_load_failed_total",
			Help: "Number of failed snapshot loads",
		},
	)
	metricStoreCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_store_calls_total",
			Help: "Number of snapshot store calls",
		},
	)
	metricStoreFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_store_failed_total",
			Help: "Number of failed snapshot stores",
		},
	)
	metricStoreBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_snapshot_store_bytes_total",
			Help: "Number of compressed bytes stored successfully",
		},
	)
)

func init() {
	prometheus.MustRegister(metricListCalls)
	prometheus.MustRegister(metricListFailed)
	prometheus.MustRegister(metricLoadCalls)
	prometheus.MustRegister(metricLoadFailed)
	prometheus.MustRegister(metricStoreCalls)
	prometheus.MustRegister(metricStoreFailed)
	prometheus.MustRegister(metricStoreBytes)
}
