// Package recorder collects the speech forwarded while the orchestrator is
// recording into utterances, and hands finished utterances to the
// application, optionally saving them as WAV and Opus files.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/opusenc"
)

// TriggerManual marks utterances opened by samples arriving without a
// preceding notification (StartRecording from the API).
const TriggerManual = "manual"

// ErrNoHandler is returned by New when no utterance handler is given.
var ErrNoHandler = errors.New("recorder: utterance handler is required")

// Config holds recorder configuration.
type Config struct {
	// SampleRate of the recorded speech.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// MaxDuration caps one utterance. Later samples are dropped.
	// Default: 5s
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`

	// Dir receives <id>.wav and <id>.json per delivered utterance. Empty
	// disables saving.
	Dir string `yaml:"dir" json:"dir"`

	// Opus also saves <id>.opus (length-prefixed 20ms packets).
	Opus bool `yaml:"opus" json:"opus"`

	// OpusBitrate in bits per second. 0 keeps the encoder default.
	OpusBitrate int `yaml:"opus_bitrate" json:"opus_bitrate"`

	// QueueLength bounds finished utterances waiting for delivery.
	// Default: 8
	QueueLength int `yaml:"queue_length" json:"queue_length"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		MaxDuration: 5 * time.Second,
		QueueLength: 8,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive, got %v", c.MaxDuration)
	}
	if c.QueueLength <= 0 {
		return fmt.Errorf("queue_length must be positive, got %d", c.QueueLength)
	}
	if c.OpusBitrate < 0 {
		return fmt.Errorf("opus_bitrate must not be negative, got %d", c.OpusBitrate)
	}
	return nil
}

func (c *Config) maxSamples() int {
	return int(int64(c.SampleRate) * int64(c.MaxDuration) / int64(time.Second))
}

// Utterance is one recorded stretch of speech.
type Utterance struct {
	ID        uuid.UUID `json:"id"`
	Trigger   string    `json:"trigger"`
	End       string    `json:"end"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Samples   []int16   `json:"-"`
	Truncated int       `json:"truncated_samples"`

	SampleRate int    `json:"sample_rate"`
	WAVPath    string `json:"wav_path,omitempty"`
	OpusPath   string `json:"opus_path,omitempty"`
}

// Duration returns the recorded audio length.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Handler receives delivered utterances on the recorder's Run goroutine.
type Handler func(*Utterance)

// Stats contains recorder statistics.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Discarded int64 `json:"discarded"`
	Dropped   int64 `json:"dropped"`
	Truncated int64 `json:"truncated_samples"`
	SaveFails int64 `json:"save_failures"`
	Open      bool  `json:"open"`
}

// Recorder turns notifications and recorded samples into utterances.
type Recorder struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	handler Handler

	mu  sync.Mutex
	cur *Utterance

	finished chan *Utterance

	delivered atomic.Int64
	discarded atomic.Int64
	dropped   atomic.Int64
	truncated atomic.Int64
	saveFails atomic.Int64
}

// New creates a recorder. Call Run to deliver finished utterances.
func New(cfg Config, handler Handler, logger *slog.Logger, m *metrics.Metrics) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}
	if handler == nil {
		return nil, ErrNoHandler
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create recording dir: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		cfg:      cfg,
		logger:   logger.With("component", "recorder"),
		metrics:  m,
		handler:  handler,
		finished: make(chan *Utterance, cfg.QueueLength),
	}, nil
}

// HandleNotification opens, closes or discards the current utterance. It
// is meant to be the orchestrator's event callback and does not block.
func (r *Recorder) HandleNotification(n event.Notification) {
	switch {
	case n.StartsUtterance():
		r.open(n.Kind.String(), n.At)
	case n.EndsUtterance():
		r.Finish(n.Kind.String())
	case n.Kind == event.PublicTimeout:
		r.discard("timeout")
	}
}

// Append adds recorded samples to the current utterance, opening one if
// none is open. Samples beyond MaxDuration are dropped.
func (r *Recorder) Append(pcm []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur == nil {
		r.cur = r.newUtterance(TriggerManual, time.Now())
	}

	room := r.cfg.maxSamples() - len(r.cur.Samples)
	if room < len(pcm) {
		dropped := len(pcm) - max(room, 0)
		if r.cur.Truncated == 0 {
			r.logger.Warn("utterance reached maximum duration, dropping samples",
				"id", r.cur.ID,
				"max_duration", r.cfg.MaxDuration,
			)
		}
		r.cur.Truncated += dropped
		r.truncated.Add(int64(dropped))
		r.metrics.Truncated(dropped)
		pcm = pcm[:max(room, 0)]
	}
	r.cur.Samples = append(r.cur.Samples, pcm...)
}

// Finish closes the current utterance and queues it for delivery. Empty
// utterances are discarded.
func (r *Recorder) Finish(reason string) {
	r.mu.Lock()
	u := r.cur
	r.cur = nil
	r.mu.Unlock()

	if u == nil {
		return
	}
	if len(u.Samples) == 0 {
		r.discarded.Add(1)
		r.metrics.UtteranceFinished("discarded", 0)
		r.logger.Debug("empty utterance discarded", "id", u.ID, "reason", reason)
		return
	}

	u.End = reason
	u.EndedAt = time.Now()

	select {
	case r.finished <- u:
	default:
		r.dropped.Add(1)
		r.metrics.UtteranceFinished("dropped", 0)
		r.logger.Warn("delivery queue full, dropping utterance", "id", u.ID)
	}
}

// Run delivers finished utterances until ctx is done. Utterances still
// queued at that point are delivered before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-r.finished:
					r.deliver(u)
				default:
					return nil
				}
			}
		case u := <-r.finished:
			r.deliver(u)
		}
	}
}

// Current returns the open utterance's ID and sample count.
func (r *Recorder) Current() (uuid.UUID, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return uuid.Nil, 0, false
	}
	return r.cur.ID, len(r.cur.Samples), true
}

// Stats returns recorder statistics.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	open := r.cur != nil
	r.mu.Unlock()

	return Stats{
		Delivered: r.delivered.Load(),
		Discarded: r.discarded.Load(),
		Dropped:   r.dropped.Load(),
		Truncated: r.truncated.Load(),
		SaveFails: r.saveFails.Load(),
		Open:      open,
	}
}

func (r *Recorder) open(trigger string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A re-trigger while speech is being collected extends the utterance.
	if r.cur != nil {
		return
	}
	r.cur = r.newUtterance(trigger, at)
	r.logger.Debug("utterance opened", "id", r.cur.ID, "trigger", trigger)
}

func (r *Recorder) discard(reason string) {
	r.mu.Lock()
	u := r.cur
	r.cur = nil
	r.mu.Unlock()

	if u == nil {
		return
	}
	r.discarded.Add(1)
	r.metrics.UtteranceFinished("discarded", 0)
	r.logger.Info("utterance discarded", "id", u.ID, "reason", reason, "samples", len(u.Samples))
}

func (r *Recorder) newUtterance(trigger string, at time.Time) *Utterance {
	if at.IsZero() {
		at = time.Now()
	}
	return &Utterance{
		ID:         uuid.New(),
		Trigger:    trigger,
		StartedAt:  at,
		SampleRate: r.cfg.SampleRate,
		Samples:    make([]int16, 0, r.cfg.SampleRate),
	}
}

func (r *Recorder) deliver(u *Utterance) {
	if r.cfg.Dir != "" {
		if err := r.save(u); err != nil {
			r.saveFails.Add(1)
			r.logger.Error("failed to save utterance", "id", u.ID, "error", err)
		}
	}

	r.delivered.Add(1)
	r.metrics.UtteranceFinished("delivered", u.Duration().Seconds())
	r.logger.Info("utterance delivered",
		"id", u.ID,
		"trigger", u.Trigger,
		"end", u.End,
		"duration", u.Duration(),
		"truncated", u.Truncated,
	)
	r.handler(u)
}

func (r *Recorder) save(u *Utterance) error {
	base := filepath.Join(r.cfg.Dir, u.ID.String())

	wavPath := base + ".wav"
	if err := audioio.WriteWAVFile(wavPath, u.Samples, u.SampleRate); err != nil {
		return err
	}
	u.WAVPath = wavPath

	if r.cfg.Opus {
		packets, err := opusenc.EncodeAll(u.SampleRate, r.cfg.OpusBitrate, u.Samples)
		if err != nil {
			return err
		}
		opusPath := base + ".opus"
		f, err := os.Create(opusPath)
		if err != nil {
			return fmt.Errorf("create opus file: %w", err)
		}
		if err := opusenc.WritePackets(f, packets); err != nil {
			f.Close()
			return fmt.Errorf("write opus file: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		u.OpusPath = opusPath
	}

	meta, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal utterance: %w", err)
	}
	if err := os.WriteFile(base+".json", meta, 0644); err != nil {
		return fmt.Errorf("write utterance metadata: %w", err)
	}
	return nil
}
