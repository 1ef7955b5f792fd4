package bufpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replstream_bufpool_idle",
			Help: "Number of idle buffers held by the pool",
		},
		[]string{"pool"},
	)
	metricReused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_bufpool_reused_total",
			Help: "Number of buffers taken from the pool",
		},
		[]string{"pool"},
	)
	metricAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_bufpool_allocated_total",
			Help: "Number of buffers allocated because the pool had none that fit",
		},
		[]string{"pool"},
	)
	metricDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_bufpool_discarded_total",
			Help: "Number of buffers discarded in favour of a bigger one",
		},
		[]string{"pool"},
	)
	metricDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_bufpool_dropped_total",
			Help: "Number of released buffers dropped because the pool was full",
		},
		[]string{"pool"},
	)
)

func init() {
	prometheus.MustRegister(metricIdle)
	prometheus.MustRegister(metricReused)
	prometheus.MustRegister(metricAllocated)
	prometheus.MustRegister(metricDiscarded)
	prometheus.MustRegister(metricDropped)
}
