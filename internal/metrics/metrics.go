package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for capture, streaming and the HTTP API.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Capture and streaming
	FramesCaptured  prometheus.Counter
	FramesSent      prometheus.Counter
	PartialUpdates  prometheus.Counter
	SegmentsSealed  prometheus.Counter
	IgnoredMessages prometheus.Counter
	Sessions        *prometheus.CounterVec

	// Recording lifecycle
	Recordings        *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Credentials
	TokenRequests *prometheus.CounterVec

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_frames_captured_total",
			Help: "Total number of 50ms PCM frames produced by the capture engine",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_frames_sent_total",
			Help: "Total number of PCM frames written to the streaming transport",
		}),
		PartialUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_transcript_partial_updates_total",
			Help: "Total number of partial transcript updates received",
		}),
		SegmentsSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_transcript_segments_sealed_total",
			Help: "Total number of final transcript segments sealed",
		}),
		IgnoredMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_ignored_messages_total",
			Help: "Total number of unrecognized server messages ignored",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_streaming_sessions_total",
			Help: "Total number of streaming sessions by terminal state",
		}, []string{"state"}),
		Recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_recordings_total",
			Help: "Total number of recordings by final state",
		}, []string{"state"}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscribe_recording_duration_seconds",
			Help:    "Latched duration of finished recordings",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		TokenRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_token_requests_total",
			Help: "Total number of streaming token requests by result",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) PartialUpdate() {
	if m == nil {
		return
	}
	m.PartialUpdates.Inc()
}

func (m *Metrics) SegmentSealed() {
	if m == nil {
		return
	}
	m.SegmentsSealed.Inc()
}

func (m *Metrics) MessageIgnored() {
	if m == nil {
		return
	}
	m.IgnoredMessages.Inc()
}

func (m *Metrics) SessionEnded(state string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordingFinished(state string, seconds int) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(state).Inc()
	m.RecordingDuration.Observe(float64(seconds))
}

func (m *Metrics) TokenRequest(result string) {
	if m == nil {
		return
	}
	m.TokenRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method string, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
