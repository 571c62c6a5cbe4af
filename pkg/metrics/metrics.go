// Package metrics exposes Prometheus collectors for the audio pipeline.
//
// Every method is safe on a nil *Metrics, so components can take an
// optional collector without guarding each call site.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for one pipeline instance.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// playbackFree backs the playback_free_samples gauge. It is swapped by
	// each pipeline instance instead of registering a new collector.
	playbackFree atomic.Pointer[func() int]

	// Ring buffer metrics
	RingOverruns *prometheus.CounterVec

	// Playback metrics
	FramesPlayed prometheus.Counter
	SinkErrors   prometheus.Counter

	// Front-end metrics
	FramesFed          prometheus.Counter
	MicErrors          prometheus.Counter
	ReferenceUnderruns prometheus.Counter
	RecordedSamples    prometheus.Counter

	// Orchestrator metrics
	EventsPosted  *prometheus.CounterVec
	EventsDropped prometheus.Counter
	Notifications *prometheus.CounterVec
	State         prometheus.Gauge

	// Utterance metrics
	Utterances        *prometheus.CounterVec
	UtteranceDuration prometheus.Histogram
	TruncatedSamples  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry. Go runtime
// and process collectors are included.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxcore"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		namespace: namespace,

		RingOverruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_overrun_samples_total",
			Help:      "Samples evicted by overwrite-on-full, per ring buffer",
		}, []string{"buffer"}),

		FramesPlayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_total",
			Help:      "Frames forwarded to the output device",
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_sink_errors_total",
			Help:      "Output device write failures",
		}),

		FramesFed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontend_frames_fed_total",
			Help:      "Frames handed to the voice engine while capturing",
		}),
		MicErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontend_mic_errors_total",
			Help:      "Microphone reads that failed or returned nothing",
		}),
		ReferenceUnderruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontend_reference_underruns_total",
			Help:      "Frames whose echo reference was zero-padded",
		}),
		RecordedSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontend_recorded_samples_total",
			Help:      "Recognized speech samples forwarded to the application",
		}),

		EventsPosted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_posted_total",
			Help:      "Events accepted by the orchestrator queue",
		}, []string{"kind"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the orchestrator queue was full",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Public events delivered to the application",
		}, []string{"kind"}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current orchestrator state (0=disabled 1=idle 2=listening 3=recording 4=playback)",
		}),

		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances finished, by outcome",
		}, []string{"outcome"}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of delivered utterances",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5},
		}),
		TruncatedSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterance_truncated_samples_total",
			Help:      "Samples dropped because an utterance hit its length cap",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "playback_free_samples",
		Help:      "Samples that can be queued for playback without overwriting",
	}, m.playbackFreeSamples)

	return m
}

// Registry returns the registry holding these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetPlaybackFree makes fn the source of the playback_free_samples gauge.
// The returned release func detaches fn again, unless another source has
// replaced it in the meantime.
func (m *Metrics) SetPlaybackFree(fn func() int) (release func()) {
	if m == nil || fn == nil {
		return func() {}
	}
	p := &fn
	m.playbackFree.Store(p)
	return func() { m.playbackFree.CompareAndSwap(p, nil) }
}

func (m *Metrics) playbackFreeSamples() float64 {
	if p := m.playbackFree.Load(); p != nil {
		return float64((*p)())
	}
	return 0
}

// OverrunHook returns a callback counting evictions for the named buffer.
func (m *Metrics) OverrunHook(buffer string) func(int) {
	if m == nil {
		return nil
	}
	c := m.RingOverruns.WithLabelValues(buffer)
	return func(n int) { c.Add(float64(n)) }
}

// FramePlayed counts a frame forwarded to the sink.
func (m *Metrics) FramePlayed() {
	if m != nil {
		m.FramesPlayed.Inc()
	}
}

// SinkError counts an output device failure.
func (m *Metrics) SinkError() {
	if m != nil {
		m.SinkErrors.Inc()
	}
}

// FrameFed counts a frame handed to the engine.
func (m *Metrics) FrameFed() {
	if m != nil {
		m.FramesFed.Inc()
	}
}

// MicError counts a failed or empty microphone read.
func (m *Metrics) MicError() {
	if m != nil {
		m.MicErrors.Inc()
	}
}

// ReferenceUnderrun counts a zero-padded reference frame.
func (m *Metrics) ReferenceUnderrun() {
	if m != nil {
		m.ReferenceUnderruns.Inc()
	}
}

// Recorded counts samples forwarded to the recording sink.
func (m *Metrics) Recorded(n int) {
	if m != nil {
		m.RecordedSamples.Add(float64(n))
	}
}

// EventPosted counts an accepted event.
func (m *Metrics) EventPosted(kind string) {
	if m != nil {
		m.EventsPosted.WithLabelValues(kind).Inc()
	}
}

// EventDropped counts an event lost to a full queue.
func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

// Notified counts a public event.
func (m *Metrics) Notified(kind string) {
	if m != nil {
		m.Notifications.WithLabelValues(kind).Inc()
	}
}

// SetState records the current state.
func (m *Metrics) SetState(state int) {
	if m != nil {
		m.State.Set(float64(state))
	}
}

// UtteranceFinished records an utterance outcome ("delivered", "discarded")
// and, for delivered ones, its duration.
func (m *Metrics) UtteranceFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(outcome).Inc()
	if outcome == "delivered" {
		m.UtteranceDuration.Observe(seconds)
	}
}

// Truncated counts samples dropped by the utterance cap.
func (m *Metrics) Truncated(n int) {
	if m != nil {
		m.TruncatedSamples.Add(float64(n))
	}
}
