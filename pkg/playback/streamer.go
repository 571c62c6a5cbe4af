// Package playback streams queued PCM audio to an output device while
// feeding a copy of every emitted frame into an echo-reference buffer.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/ringbuf"
)

// Common errors returned by the streamer.
var (
	ErrNoDevice        = errors.New("playback: output device is required")
	ErrInvalidArgument = errors.New("playback: empty audio")
	ErrClosed          = errors.New("playback: streamer closed")
	ErrWorkerBusy      = errors.New("playback: previous worker has not exited")
)

// DefaultVolume is used when no VolumeSource is supplied.
const DefaultVolume uint8 = 80

// VolumeSource supplies the current output volume (0-100). It is read once
// per frame from the worker goroutine and must be safe for concurrent use.
type VolumeSource interface {
	Volume() uint8
}

// FixedVolume is a constant VolumeSource.
type FixedVolume uint8

// Volume returns v.
func (v FixedVolume) Volume() uint8 { return uint8(v) }

// Stats contains playback statistics.
type Stats struct {
	FramesPlayed    int64 `json:"frames_played"`
	SamplesPlayed   int64 `json:"samples_played"`
	SinkErrors      int64 `json:"sink_errors"`
	Overruns        int64 `json:"overruns"`
	Buffered        int   `json:"buffered"`
	ReferenceQueued int   `json:"reference_queued"`
	Running         bool  `json:"running"`
}

// Streamer drains the playback buffer into the output device.
type Streamer struct {
	cfg     Config
	sink    audioio.Sink
	volume  VolumeSource
	logger  *slog.Logger
	metrics *metrics.Metrics

	playback  *ringbuf.Buffer
	reference *ringbuf.Buffer

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	running atomic.Bool

	framesPlayed  atomic.Int64
	samplesPlayed atomic.Int64
	sinkErrors    atomic.Int64
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Streamer) {
		s.metrics = m
	}
}

// New creates a streamer writing to sink. The worker is not started.
func New(cfg Config, sink audioio.Sink, volume VolumeSource, logger *slog.Logger, opts ...Option) (*Streamer, error) {
	if sink == nil {
		return nil, ErrNoDevice
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid playback config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if volume == nil {
		volume = FixedVolume(DefaultVolume)
	}

	s := &Streamer{
		cfg:    cfg,
		sink:   sink,
		volume: volume,
		logger: logger.With("component", "playback"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.playback, err = ringbuf.New(cfg.PlaybackBufferSamples, true,
		ringbuf.WithName("playback"),
		ringbuf.WithLogger(s.logger),
		ringbuf.WithOverrunHook(s.metrics.OverrunHook("playback")),
	)
	if err != nil {
		return nil, fmt.Errorf("playback buffer: %w", err)
	}
	s.reference, err = ringbuf.New(cfg.ReferenceBufferSamples, false,
		ringbuf.WithName("reference"),
		ringbuf.WithLogger(s.logger),
		ringbuf.WithOverrunHook(s.metrics.OverrunHook("reference")),
	)
	if err != nil {
		return nil, fmt.Errorf("reference buffer: %w", err)
	}

	return s, nil
}

// Start spawns the streaming worker. It is a no-op when already running.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running.Load() {
		return nil
	}

	// A worker abandoned by Stop's grace period still holds the buffers.
	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(s.cfg.ReadTimeout + s.cfg.StopGrace):
			return ErrWorkerBusy
		}
	}

	done := make(chan struct{})
	s.done = done
	s.running.Store(true)
	go s.run(done)

	s.logger.Info("playback started",
		"frame_samples", s.cfg.FrameSamples,
		"device", s.sink.Name(),
	)
	return nil
}

// Stop asks the worker to exit and waits up to the configured grace
// period. It is a no-op when not running.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	select {
	case <-s.done:
		s.logger.Info("playback stopped")
	case <-time.After(s.cfg.StopGrace):
		s.logger.Warn("playback worker did not exit within grace period",
			"grace", s.cfg.StopGrace,
		)
	}
	return nil
}

func (s *Streamer) run(done chan struct{}) {
	defer close(done)

	frame := make([]int16, s.cfg.FrameSamples)
	scaled := make([]int16, s.cfg.FrameSamples)

	for s.running.Load() {
		n := s.playback.Read(frame, s.cfg.ReadTimeout)
		if n == 0 {
			continue
		}

		// What the speaker emits is what the microphone hears back.
		s.reference.Write(frame[:n])

		vol := s.volume.Volume()
		audioio.ScaleVolume(scaled[:n], frame[:n], vol)

		if err := s.sink.Write(scaled[:n], vol); err != nil {
			s.sinkErrors.Add(1)
			s.metrics.SinkError()
			s.logger.Warn("output device write failed", "error", err, "samples", n)
			continue
		}

		s.framesPlayed.Add(1)
		s.samplesPlayed.Add(int64(n))
		s.metrics.FramePlayed()
	}
}

// Write queues pcm for playback. Under sustained overrun the oldest queued
// audio is overwritten; poll FreeSpace to avoid that.
func (s *Streamer) Write(pcm []int16) error {
	if len(pcm) == 0 {
		return ErrInvalidArgument
	}
	if n := s.playback.Write(pcm); n == 0 {
		s.logger.Debug("playback buffer busy, samples not queued", "samples", len(pcm))
	}
	return nil
}

// Clear discards queued playback and reference audio.
func (s *Streamer) Clear() error {
	return errors.Join(s.playback.Clear(), s.reference.Clear())
}

// FreeSpace returns how many samples can be queued without overwriting.
func (s *Streamer) FreeSpace() int {
	return s.playback.Free()
}

// ReferenceBuffer returns the echo-reference buffer. Consumers should only
// read from it.
func (s *Streamer) ReferenceBuffer() *ringbuf.Buffer {
	return s.reference
}

// IsRunning reports whether the worker is active.
func (s *Streamer) IsRunning() bool {
	return s.running.Load()
}

// Stats returns playback statistics.
func (s *Streamer) Stats() Stats {
	return Stats{
		FramesPlayed:    s.framesPlayed.Load(),
		SamplesPlayed:   s.samplesPlayed.Load(),
		SinkErrors:      s.sinkErrors.Load(),
		Overruns:        s.playback.Overruns(),
		Buffered:        s.playback.Available(),
		ReferenceQueued: s.reference.Available(),
		Running:         s.running.Load(),
	}
}

// Close stops the worker. The streamer cannot be restarted afterwards.
func (s *Streamer) Close() error {
	err := s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return err
}
