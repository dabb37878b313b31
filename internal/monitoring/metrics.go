package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics counts stream traffic per stream kind and device.
type StreamMetrics struct {
	Frames     *prometheus.CounterVec
	Returns    *prometheus.CounterVec
	LostFrames *prometheus.CounterVec
	Recorded   *prometheus.CounterVec
	Errors     *prometheus.CounterVec
}

// NewStreamMetrics creates the stream collectors. They are not registered;
// call Register to expose them.
func NewStreamMetrics() *StreamMetrics {
	labels := []string{"kind", "device"}
	return &StreamMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lidarlink",
			Name:      "stream_events_total",
			Help:      "Events received on a stream (frames, IMU bursts, raw chunks, status updates).",
		}, labels),
		Returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lidarlink",
			Name:      "stream_returns_total",
			Help:      "Point cloud returns received.",
		}, labels),
		LostFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lidarlink",
			Name:      "stream_lost_frames_total",
			Help:      "Frames missing from the id sequence.",
		}, labels),
		Recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lidarlink",
			Name:      "recording_bytes_total",
			Help:      "Uncompressed bytes written to recordings.",
		}, labels),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lidarlink",
			Name:      "protocol_errors_total",
			Help:      "Errors reported by the device, by error name.",
		}, []string{"name"}),
	}
}

// Register adds the collectors to reg.
func (m *StreamMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Frames, m.Returns, m.LostFrames, m.Recorded, m.Errors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Metrics is the process-wide instance used by the library. It is registered
// with the default registry by RegisterDefault.
var Metrics = NewStreamMetrics()

// RegisterDefault registers Metrics with the default prometheus registry.
func RegisterDefault() error {
	return Metrics.Register(prometheus.DefaultRegisterer)
}
