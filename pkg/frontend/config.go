package frontend

import (
	"fmt"
	"time"
)

// Config holds front-end configuration.
type Config struct {
	// MaxFrameSamples is the largest per-channel frame the adapter serves.
	// Larger requests are answered with silence.
	// Default: 512
	MaxFrameSamples int `yaml:"max_frame_samples" json:"max_frame_samples"`

	// FrameSamples is the per-channel frame the simulated engine requests.
	// Default: 512 (32ms at 16kHz)
	FrameSamples int `yaml:"frame_samples" json:"frame_samples"`

	// SampleRate is used to convert VAD durations into frame counts.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// IdleInterval is how long the simulated engine sleeps when capture is
	// inactive.
	// Default: 20ms
	IdleInterval time.Duration `yaml:"idle_interval" json:"idle_interval"`

	// VAD tuning for the simulated engine.
	VAD VADConfig `yaml:"vad" json:"vad"`
}

// VADConfig tunes the RMS voice activity detector.
type VADConfig struct {
	// SpeechThreshold is the RMS level (0-1) that counts as speech.
	SpeechThreshold float64 `yaml:"speech_threshold" json:"speech_threshold"`

	// SilenceThreshold is the RMS level (0-1) below which a frame is silence.
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// MinSpeech is how long speech must last before speech starts.
	MinSpeech time.Duration `yaml:"min_speech" json:"min_speech"`

	// MinSilence is how long silence must last before speech ends.
	MinSilence time.Duration `yaml:"min_silence" json:"min_silence"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSamples: 512,
		FrameSamples:    512,
		SampleRate:      16000,
		IdleInterval:    20 * time.Millisecond,
		VAD: VADConfig{
			SpeechThreshold:  0.015,
			SilenceThreshold: 0.008,
			MinSpeech:        200 * time.Millisecond,
			MinSilence:       400 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxFrameSamples <= 0 {
		return fmt.Errorf("max_frame_samples must be positive, got %d", c.MaxFrameSamples)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("frame_samples must be positive, got %d", c.FrameSamples)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.IdleInterval <= 0 {
		return fmt.Errorf("idle_interval must be positive, got %v", c.IdleInterval)
	}
	if c.VAD.SilenceThreshold > c.VAD.SpeechThreshold {
		return fmt.Errorf("vad silence_threshold %.4f above speech_threshold %.4f",
			c.VAD.SilenceThreshold, c.VAD.SpeechThreshold)
	}
	return nil
}

// frames converts d into a count of frames of the configured size, at
// least one.
func (c *Config) frames(d time.Duration) int {
	frameDur := time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
	n := int((d + frameDur - 1) / frameDur)
	if n < 1 {
		n = 1
	}
	return n
}
