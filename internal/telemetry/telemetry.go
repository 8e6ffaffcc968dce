// Package telemetry exposes the harness's own wire-level counters and
// outstanding-echo backlog as Prometheus metrics, served over promhttp for
// the duration of a run.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/pipeline"
)

// OutstandingGauge reports the number of echoes sent but not yet matched;
// satisfied by *latency.Meter.
type OutstandingGauge interface {
	Outstanding() int
}

// StatisticsSource reports wire-level byte/command counters; satisfied by
// *pipeline.Statistics.
type StatisticsSource interface {
	Snapshot() pipeline.Statistics
}

// Collector is a prometheus.Collector over a pipeline's transport
// statistics and a latency meter's outstanding backlog. Unlike the
// connection-table collector it is modelled on, there is exactly one
// transport per process, so no Add/Remove registration is needed.
type Collector struct {
	stats       StatisticsSource
	outstanding OutstandingGauge

	bytesSentDesc        *prometheus.Desc
	bytesReceivedDesc    *prometheus.Desc
	outstandingDesc      *prometheus.Desc
	commandsSentDesc     *prometheus.Desc
	commandsReceivedDesc *prometheus.Desc
}

// NewCollector constructs a Collector. constLabels are attached to every
// metric (e.g. {"port": "/dev/ttyUSB0"}).
func NewCollector(stats StatisticsSource, outstanding OutstandingGauge, constLabels prometheus.Labels) *Collector {
	return &Collector{
		stats:       stats,
		outstanding: outstanding,
		bytesSentDesc: prometheus.NewDesc(
			"uartstress_bytes_sent_total", "Total bytes written to the serial port.", nil, constLabels),
		bytesReceivedDesc: prometheus.NewDesc(
			"uartstress_bytes_received_total", "Total bytes read from the serial port.", nil, constLabels),
		outstandingDesc: prometheus.NewDesc(
			"uartstress_echo_outstanding", "Echoes sent but not yet matched to a response.", nil, constLabels),
		commandsSentDesc: prometheus.NewDesc(
			"uartstress_commands_sent_total", "Total frames sent, by command code.", []string{"command"}, constLabels),
		commandsReceivedDesc: prometheus.NewDesc(
			"uartstress_commands_received_total", "Total frames received, by command code.", []string{"command"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.bytesSentDesc
	descs <- c.bytesReceivedDesc
	descs <- c.outstandingDesc
	descs <- c.commandsSentDesc
	descs <- c.commandsReceivedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	metrics <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(snap.BytesSent))
	metrics <- prometheus.MustNewConstMetric(c.bytesReceivedDesc, prometheus.CounterValue, float64(snap.BytesReceived))
	metrics <- prometheus.MustNewConstMetric(c.outstandingDesc, prometheus.GaugeValue, float64(c.outstanding.Outstanding()))

	for command, count := range snap.CommandsSent {
		metrics <- prometheus.MustNewConstMetric(c.commandsSentDesc, prometheus.CounterValue, float64(count), fmt.Sprintf("%d", command))
	}
	for command, count := range snap.CommandsReceived {
		metrics <- prometheus.MustNewConstMetric(c.commandsReceivedDesc, prometheus.CounterValue, float64(count), fmt.Sprintf("%d", command))
	}
}

// Server wraps an http.Server exposing /metrics for a registered
// Collector.
type Server struct {
	http *http.Server
}

// NewServer registers collector against a fresh prometheus.Registry and
// returns a Server bound to addr (e.g. ":9123"). The server does not start
// listening until Serve is called.
func NewServer(addr string, collector *Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until the listener fails or ctx is cancelled, in which case
// it shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	}
}
