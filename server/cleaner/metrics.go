package cleaner

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_cleaner_runs_total",
			Help: "Number of cleaner runs",
		},
		[]string{"group"},
	)
	metricRunsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_cleaner_runs_failed_total",
			Help: "Number of cleaner runs that could not list snapshots",
		},
		[]string{"group"},
	)
	metricDeleteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_cleaner_delete_total",
			Help: "Number of cleaner delete calls",
		},
		[]string{"group"},
	)
	metricDeleteFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_cleaner_delete_failed_total",
			Help: "Number of failed cleaner delete calls",
		},
		[]string{"group"},
	)
)

func init() {
	prometheus.MustRegister(metricRuns)
	prometheus.MustRegister(metricRunsFailed)
	prometheus.MustRegister(metricDeleteCalls)
	prometheus.MustRegister(metricDeleteFailed)
}
