package audioio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave) and can replay
// queued samples ahead of the synthetic signal.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queued []int16
	err    error
	pace   pacer

	// Stats
	reads       atomic.Int64
	samplesRead atomic.Int64
	errors      atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithSamples queues samples to be returned before the synthetic signal.
func WithSamples(samples []int16) MockSourceOption {
	return func(m *MockSource) {
		m.queued = append(m.queued, samples...)
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Push queues samples to be returned by subsequent reads.
func (m *MockSource) Push(samples []int16) {
	m.mu.Lock()
	m.queued = append(m.queued, samples...)
	m.mu.Unlock()
}

// SetSine changes the synthetic signal. A zero frequency produces silence.
func (m *MockSource) SetSine(frequency, amplitude float64) {
	m.mu.Lock()
	m.frequency = frequency
	m.amplitude = amplitude
	m.mu.Unlock()
}

// SetError makes subsequent reads fail with err. Pass nil to recover.
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Read fills out with queued samples first, then the synthetic signal.
// When the config has a frame duration, reads are paced to real time.
func (m *MockSource) Read(out []int16) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		m.errors.Add(1)
		return 0, err
	}

	n := copy(out, m.queued)
	m.queued = m.queued[n:]
	m.generate(out[n:])
	wait := m.pace.next(m.cfg, len(out))
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	m.reads.Add(1)
	m.samplesRead.Add(int64(len(out)))
	return len(out), nil
}

func (m *MockSource) generate(out []int16) {
	if m.frequency <= 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}

	for i := range out {
		sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
		out[i] = int16(sample * 32767)

		m.phase++
		if m.phase >= float64(m.cfg.SampleRate) {
			m.phase = 0
		}
	}
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		Reads:       m.reads.Load(),
		SamplesRead: m.samplesRead.Load(),
		Errors:      m.errors.Load(),
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// It keeps every frame written, bounded by a retention limit.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	err     error
	frames  [][]int16
	volumes []uint8
	retain  int

	// Stats
	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
	errors         atomic.Int64
}

// NewMockSink creates a new mock audio sink. At most the last 1000 frames
// are retained for inspection.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
		retain: 1000,
	}
}

// SetError makes subsequent writes fail with err. Pass nil to recover.
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Write records a copy of the frame.
func (m *MockSink) Write(samples []int16, volume uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.err != nil {
		m.errors.Add(1)
		return m.err
	}

	frame := make([]int16, len(samples))
	copy(frame, samples)
	m.frames = append(m.frames, frame)
	m.volumes = append(m.volumes, volume)
	if len(m.frames) > m.retain {
		m.frames = m.frames[1:]
		m.volumes = m.volumes[1:]
	}

	m.framesWritten.Add(1)
	m.samplesWritten.Add(int64(len(samples)))

	return nil
}

// Frames returns the retained frames, oldest first.
func (m *MockSink) Frames() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int16, len(m.frames))
	copy(out, m.frames)
	return out
}

// Volumes returns the volume passed with each retained frame.
func (m *MockSink) Volumes() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint8, len(m.volumes))
	copy(out, m.volumes)
	return out
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	return SinkStats{
		FramesWritten:  m.framesWritten.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Errors:         m.errors.Load(),
		Backend:        "mock",
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
