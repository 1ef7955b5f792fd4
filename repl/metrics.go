package repl

import "github.com/prometheus/client_golang/prometheus"

var (
	metricHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replstream_repl_handshakes_total",
			Help: "Number of snapshot handshakes by result",
		},
		[]string{"result"},
	)
	metricSendsBegun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_repl_sends_begun_total",
			Help: "Number of snapshot transfers that wrote a header",
		},
	)
	metricSendsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_repl_sends_failed_total",
			Help: "Number of snapshot transfers that failed before the payload",
		},
	)
	metricBytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_repl_bytes_sent_total",
			Help: "Number of bytes sent to snapshot receivers, including headers",
		},
	)
	metricBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replstream_repl_payload_bytes_received_total",
			Help: "Number of snapshot payload bytes received",
		},
	)
)

func init() {
	prometheus.MustRegister(metricHandshakes)
	prometheus.MustRegister(metricSendsBegun)
	prometheus.MustRegister(metricSendsFailed)
	prometheus.MustRegister(metricBytesSent)
	prometheus.MustRegister(metricBytesReceived)
}
