package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/createlink/internal/sensor"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// StreamMetrics counts sensor pipeline events. It implements
// sensor.Observer.
type StreamMetrics struct {
	Bytes        prometheus.Counter
	Queued       prometheus.Counter
	Rejected     *prometheus.CounterVec // labels: reason=zero_length|checksum|other
	Accumulated  prometheus.Counter
	Values       prometheus.Counter
	DecodeErrors *prometheus.CounterVec // labels: reason=width|truncated|other
	Depth        prometheus.Gauge
	Clients      prometheus.Gauge // connected websocket clients
	Broadcasts   prometheus.Counter
}

var _ sensor.Observer = (*StreamMetrics)(nil)

// NewStreamMetrics registers and returns the pipeline metrics.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "createlink_bytes_read_total",
			Help: "Bytes read from the robot link.",
		}),
		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "createlink_frames_queued_total",
			Help: "Valid stream frames handed to the accumulator.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "createlink_frames_rejected_total",
			Help: "Frames discarded by the reader.",
		}, []string{"reason"}),
		Accumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "createlink_frames_accumulated_total",
			Help: "Frames folded into the sensor table.",
		}),
		Values: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "createlink_values_accumulated_total",
			Help: "Sensor values applied to the sensor table.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "createlink_decode_failures_total",
			Help: "Queued frames whose payload could not be decoded.",
		}, []string{"reason"}),
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "createlink_queue_depth",
			Help: "Frames waiting between reader and accumulator.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "createlink_ws_clients",
			Help: "Connected websocket clients.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "createlink_broadcasts_total",
			Help: "Sensor snapshots pushed to websocket clients.",
		}),
	}
	reg.MustRegister(m.Bytes, m.Queued, m.Rejected, m.Accumulated,
		m.Values, m.DecodeErrors, m.Depth, m.Clients, m.Broadcasts)
	return m
}

func (m *StreamMetrics) BytesRead(n int)  { m.Bytes.Add(float64(n)) }
func (m *StreamMetrics) FrameQueued()     { m.Queued.Inc() }
func (m *StreamMetrics) QueueDepth(n int) { m.Depth.Set(float64(n)) }

func (m *StreamMetrics) FrameRejected(err error) {
	reason := "other"
	switch {
	case errors.Is(err, sensor.ErrZeroLength):
		reason = "zero_length"
	case errors.Is(err, sensor.ErrChecksumMismatch):
		reason = "checksum"
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *StreamMetrics) FrameAccumulated(values int) {
	m.Accumulated.Inc()
	m.Values.Add(float64(values))
}

func (m *StreamMetrics) DecodeFailed(err error) {
	reason := "other"
	switch {
	case errors.Is(err, sensor.ErrUnsupportedWidth):
		reason = "width"
	case errors.Is(err, sensor.ErrTruncatedPayload):
		reason = "truncated"
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}
