package audioio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource plays a WAV file as if it were a microphone. The file is decoded
// up front, down-mixed to mono and resampled to the configured rate.
type WAVSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	samples []int16
	pos     int
	pace    pacer

	reads       atomic.Int64
	samplesRead atomic.Int64
}

// NewWAVSource decodes cfg.Device into memory.
func NewWAVSource(cfg Config, logger *slog.Logger) (*WAVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	samples, err := ReadWAVFile(cfg.Device, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	logger.Info("wav source loaded",
		"path", cfg.Device,
		"samples", len(samples),
		"duration", cfg.SamplesDuration(len(samples)).Round(time.Millisecond),
		"loop", cfg.Loop,
	)

	return &WAVSource{
		cfg:     cfg,
		logger:  logger,
		samples: samples,
	}, nil
}

// ReadWAVFile decodes a PCM WAV file into mono int16 samples at sampleRate.
func ReadWAVFile(path string, sampleRate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	shift := int(dec.BitDepth) - 16
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		samples[i] = int16(v)
	}

	if dec.NumChans == 2 {
		samples = StereoToMono(samples)
	} else if dec.NumChans > 2 {
		return nil, fmt.Errorf("%s: unsupported channel count %d", path, dec.NumChans)
	}

	return Resample(samples, int(dec.SampleRate), sampleRate), nil
}

// Read copies the next samples of the file into out. Past the end of the
// file it wraps when looping, otherwise it returns silence.
func (w *WAVSource) Read(out []int16) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrClosed
	}

	n := 0
	for n < len(out) {
		if w.pos >= len(w.samples) {
			if !w.cfg.Loop || len(w.samples) == 0 {
				break
			}
			w.pos = 0
		}
		c := copy(out[n:], w.samples[w.pos:])
		w.pos += c
		n += c
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	wait := w.pace.next(w.cfg, len(out))
	w.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	w.reads.Add(1)
	w.samplesRead.Add(int64(len(out)))
	return len(out), nil
}

// Name returns "wav".
func (w *WAVSource) Name() string {
	return "wav"
}

// Close releases resources.
func (w *WAVSource) Close() error {
	w.mu.Lock()
	w.closed = true
	w.samples = nil
	w.mu.Unlock()
	return nil
}

// Stats returns source statistics.
func (w *WAVSource) Stats() SourceStats {
	return SourceStats{
		Reads:       w.reads.Load(),
		SamplesRead: w.samplesRead.Load(),
		Backend:     "wav",
	}
}

var _ SourceWithStats = (*WAVSource)(nil)

// WAVSink appends every played frame to a 16-bit mono WAV file.
type WAVSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	closed bool

	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
	errors         atomic.Int64
}

// NewWAVSink creates (or truncates) cfg.OutputDevice.
func NewWAVSink(cfg Config, logger *slog.Logger) (*WAVSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(cfg.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}

	return &WAVSink{
		cfg:    cfg,
		logger: logger,
		file:   f,
		enc:    wav.NewEncoder(f, cfg.SampleRate, 16, 1, 1),
		format: &audio.Format{NumChannels: 1, SampleRate: cfg.SampleRate},
	}, nil
}

// Write encodes the frame into the file.
func (w *WAVSink) Write(samples []int16, volume uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.enc.Write(IntBuffer(samples, w.format)); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("write wav: %w", err)
	}

	w.framesWritten.Add(1)
	w.samplesWritten.Add(int64(len(samples)))
	return nil
}

// Name returns "wav".
func (w *WAVSink) Name() string {
	return "wav"
}

// Close finalizes the WAV header and closes the file.
func (w *WAVSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

// Stats returns sink statistics.
func (w *WAVSink) Stats() SinkStats {
	return SinkStats{
		FramesWritten:  w.framesWritten.Load(),
		SamplesWritten: w.samplesWritten.Load(),
		Errors:         w.errors.Load(),
		Backend:        "wav",
	}
}

var _ SinkWithStats = (*WAVSink)(nil)

// IntBuffer wraps 16-bit samples in a go-audio buffer.
func IntBuffer(samples []int16, format *audio.Format) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	return &audio.IntBuffer{
		Format:         format,
		Data:           data,
		SourceBitDepth: 16,
	}
}

// WriteWAVFile writes mono 16-bit samples to path.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	format := &audio.Format{NumChannels: 1, SampleRate: sampleRate}
	if err := enc.Write(IntBuffer(samples, format)); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
