package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/ringbuf"
)

// Errors returned when building an adapter.
var (
	ErrNoSource = errors.New("frontend: microphone source is required")
	ErrNoPoster = errors.New("frontend: event poster is required")
	ErrNoStatus = errors.New("frontend: status accessor is required")
)

// Status exposes the orchestrator's capture flags to the adapter.
type Status interface {
	IsRunning() bool
	IsRecording() bool
}

// RecordFunc receives recognized speech while recording. It runs on the
// engine's goroutine and must not block.
type RecordFunc func(pcm []int16)

// Stats contains adapter statistics.
type Stats struct {
	FramesFed          int64 `json:"frames_fed"`
	IdleFrames         int64 `json:"idle_frames"`
	OversizedFrames    int64 `json:"oversized_frames"`
	MicErrors          int64 `json:"mic_errors"`
	ReferenceUnderruns int64 `json:"reference_underruns"`
	WakeDetections     int64 `json:"wake_detections"`
	VADEdges           int64 `json:"vad_edges"`
	RecordedSamples    int64 `json:"recorded_samples"`
}

// Adapter implements the engine's feed and fetch callbacks. It only moves
// samples and posts events; decisions belong to the orchestrator.
type Adapter struct {
	cfg       Config
	mic       audioio.Source
	reference *ringbuf.Buffer
	status    Status
	poster    event.Poster
	logger    *slog.Logger
	metrics   *metrics.Metrics

	record atomic.Pointer[RecordFunc]

	// Feed scratch space, touched only by the engine's feed goroutine.
	micBuf []int16
	refBuf []int16

	// speech is the last VAD state forwarded, for edge detection.
	speech atomic.Bool

	framesFed       atomic.Int64
	idleFrames      atomic.Int64
	oversized       atomic.Int64
	micErrors       atomic.Int64
	refUnderruns    atomic.Int64
	wakeDetections  atomic.Int64
	vadEdges        atomic.Int64
	recordedSamples atomic.Int64
}

// AdapterOptions carries the adapter's collaborators.
type AdapterOptions struct {
	Mic audioio.Source

	// Reference is the echo-reference buffer. Nil means no echo reference,
	// channel 1 is always silence.
	Reference *ringbuf.Buffer

	Status  Status
	Poster  event.Poster
	Record  RecordFunc
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewAdapter creates an adapter.
func NewAdapter(cfg Config, opts AdapterOptions) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frontend config: %w", err)
	}
	switch {
	case opts.Mic == nil:
		return nil, ErrNoSource
	case opts.Poster == nil:
		return nil, ErrNoPoster
	case opts.Status == nil:
		return nil, ErrNoStatus
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		cfg:       cfg,
		mic:       opts.Mic,
		reference: opts.Reference,
		status:    opts.Status,
		poster:    opts.Poster,
		logger:    logger.With("component", "frontend"),
		metrics:   opts.Metrics,
		micBuf:    make([]int16, cfg.MaxFrameSamples),
		refBuf:    make([]int16, cfg.MaxFrameSamples),
	}
	a.SetRecordFunc(opts.Record)
	return a, nil
}

// SetRecordFunc replaces the recording sink. Nil disables forwarding.
func (a *Adapter) SetRecordFunc(fn RecordFunc) {
	if fn == nil {
		a.record.Store(nil)
		return
	}
	a.record.Store(&fn)
}

// Feed serves the engine's pull for one interleaved two-channel frame of
// len(buf)/2 samples per channel and returns the bytes produced.
//
// While capture is inactive the frame is silence and 0 bytes are reported,
// so the engine does not buffer audio from before listening started. A
// failed microphone read or an oversized request yields a full frame of
// silence. A short echo reference is padded with silence.
func (a *Adapter) Feed(buf []int16) int {
	if !a.status.IsRunning() {
		clear(buf)
		a.idleFrames.Add(1)
		return 0
	}

	full := len(buf) * 2
	frame := len(buf) / 2
	if frame > a.cfg.MaxFrameSamples {
		clear(buf)
		if a.oversized.Add(1) == 1 {
			a.logger.Warn("engine requested oversized frame",
				"samples", frame,
				"max", a.cfg.MaxFrameSamples,
			)
		}
		return full
	}

	mic := a.micBuf[:frame]
	got, err := a.mic.Read(mic)
	if err != nil || got <= 0 {
		clear(buf)
		a.micErrors.Add(1)
		a.metrics.MicError()
		if err != nil {
			a.logger.Debug("microphone read failed", "error", err)
		}
		return full
	}
	if got > frame {
		got = frame
	}

	refGot := 0
	if a.reference != nil {
		refGot = a.reference.Read(a.refBuf[:got], 0)
	}
	if refGot < got {
		a.refUnderruns.Add(1)
		a.metrics.ReferenceUnderrun()
	}

	audioio.Interleave(buf, mic[:got], a.refBuf[:refGot])
	clear(buf[got*2:])

	a.framesFed.Add(1)
	a.metrics.FrameFed()
	return got * 2 * 2
}

// Fetch handles the engine's result for one frame: wake detections and VAD
// transitions become events, recognized speech goes to the record sink
// while recording.
func (a *Adapter) Fetch(r *Result) {
	if r == nil {
		return
	}

	if r.Wake == WakeDetected {
		a.wakeDetections.Add(1)
		a.logger.Info("wake word detected", "index", r.WakeIndex, "volume_db", r.VolumeDB)
		a.poster.Post(event.Wake(r.WakeIndex, r.VolumeDB))
	}

	speech := r.VAD == VADSpeech
	if prev := a.speech.Swap(speech); prev != speech {
		a.vadEdges.Add(1)
		if speech {
			a.poster.Post(event.New(event.VADStart))
		} else {
			a.poster.Post(event.New(event.VADEnd))
		}
	}

	if len(r.Data) > 0 && a.status.IsRecording() {
		if fn := a.record.Load(); fn != nil {
			(*fn)(r.Data)
			a.recordedSamples.Add(int64(len(r.Data)))
			a.metrics.Recorded(len(r.Data))
		}
	}
}

// Reset forgets the last VAD state so the next speech frame is reported as
// a new start.
func (a *Adapter) Reset() {
	a.speech.Store(false)
}

// InSpeech reports the last VAD state forwarded.
func (a *Adapter) InSpeech() bool {
	return a.speech.Load()
}

// Stats returns adapter statistics.
func (a *Adapter) Stats() Stats {
	return Stats{
		FramesFed:          a.framesFed.Load(),
		IdleFrames:         a.idleFrames.Load(),
		OversizedFrames:    a.oversized.Load(),
		MicErrors:          a.micErrors.Load(),
		ReferenceUnderruns: a.refUnderruns.Load(),
		WakeDetections:     a.wakeDetections.Load(),
		VADEdges:           a.vadEdges.Load(),
		RecordedSamples:    a.recordedSamples.Load(),
	}
}
